package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &ValidationError{Code: CodeInvalidArgument}, CodeInvalidArgument},
		{"permission", &PermissionError{Code: CodeBlocked}, CodeBlocked},
		{"conflict", &ConflictError{Code: CodeRateLimited}, CodeRateLimited},
		{"not found", &NotFoundError{Code: CodeQueueNotFound, ID: "q"}, CodeQueueNotFound},
		{"transient", &TransientStoreError{Err: errors.New("boom")}, CodeStoreConflict},
		{"wrapped", fmt.Errorf("outer: %w", &ConflictError{Code: CodeAlreadyWaiting}), CodeAlreadyWaiting},
		{"plain", errors.New("boom"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}
