package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	serviceErrors "github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1/errors"
	storageErrors "github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/errors"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   int
		status string
	}{
		{"validation", &serviceErrors.ValidationError{Code: serviceErrors.CodeInvalidArgument}, http.StatusBadRequest, serviceErrors.CodeInvalidArgument},
		{"unauthenticated", &serviceErrors.PermissionError{Code: serviceErrors.CodeUnauthenticated}, http.StatusUnauthorized, serviceErrors.CodeUnauthenticated},
		{"blocked", &serviceErrors.PermissionError{Code: serviceErrors.CodeBlocked}, http.StatusForbidden, serviceErrors.CodeBlocked},
		{"not found", &serviceErrors.NotFoundError{Code: serviceErrors.CodeQueueNotFound}, http.StatusNotFound, serviceErrors.CodeQueueNotFound},
		{"rate limited", &serviceErrors.ConflictError{Code: serviceErrors.CodeRateLimited}, http.StatusTooManyRequests, serviceErrors.CodeRateLimited},
		{"already waiting", &serviceErrors.ConflictError{Code: serviceErrors.CodeAlreadyWaiting}, http.StatusConflict, serviceErrors.CodeAlreadyWaiting},
		{"transient", &serviceErrors.TransientStoreError{Err: errors.New("x")}, http.StatusServiceUnavailable, serviceErrors.CodeStoreConflict},
		{"storage timeout", &storageErrors.ContextTimeoutExceededError{Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"},
		{"wrapped deadline", fmt.Errorf("x: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, status := statusOf(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestInitHandlersNilService(t *testing.T) {
	_, err := InitHandlers(nil, nil)
	assert.Error(t, err)
}
