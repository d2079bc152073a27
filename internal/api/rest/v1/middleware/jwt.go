// Package middleware provides various middleware functionality.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/secretary/v1"
)

type contextKey int

const (
	identityKey contextKey = iota
	credentialKey
)

// TokenHandler sets object structure.
type TokenHandler struct {
	sec secretary.Secretary
}

// NewTokenHandler initializes a new token handler.
func NewTokenHandler(sec secretary.Secretary) (*TokenHandler, error) {
	if sec == nil {
		return nil, errors.New("nil secretary object was found")
	}
	return &TokenHandler{
		sec: sec,
	}, nil
}

// TokenHandle verifies the bearer token and stores the identity in the request context.
func (c *TokenHandler) TokenHandle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if len(tokenString) == 0 {
			unauthenticated(w, "Token authorization required")
			return
		}
		tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
		identity, err := c.sec.ValidateToken(tokenString)
		if err != nil {
			unauthenticated(w, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		ctx = context.WithValue(ctx, credentialKey, tokenString)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFrom returns the identity stored by TokenHandle.
func IdentityFrom(ctx context.Context) (modelqueue.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(modelqueue.Identity)
	return identity, ok
}

// CredentialFrom returns the raw bearer token stored by TokenHandle.
func CredentialFrom(ctx context.Context) string {
	credential, _ := ctx.Value(credentialKey).(string)
	return credential
}

func unauthenticated(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(modeldto.ErrorBody{Error: modeldto.ErrorDetail{Message: msg, Status: "UNAUTHENTICATED"}})
}
