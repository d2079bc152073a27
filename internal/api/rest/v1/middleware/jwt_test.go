package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/secretary/v1/secretary"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenHandle(t *testing.T) {
	sec, err := secretary.NewSecretaryService(&config.SecretConfig{SecretKey: "test-key"})
	require.NoError(t, err)
	th, err := NewTokenHandler(sec)
	require.NoError(t, err)
	token, err := sec.NewToken(modelqueue.Identity{UID: "u1", Email: "a@mite.ac.in", EmailVerified: true})
	require.NoError(t, err)

	var seen modelqueue.Identity
	var credential string
	h := th.TokenHandle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		credential = CredentialFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, "u1", seen.UID)
	assert.Equal(t, token, credential)
}

func TestNewTokenHandlerNilSecretary(t *testing.T) {
	_, err := NewTokenHandler(nil)
	assert.Error(t, err)
}
