// Package secretary provides methods for verifying and issuing bearer credentials.
package secretary

import (
	"errors"
	"fmt"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelclaims"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"
	secretaryService "github.com/danilovkiri/dk-go-nowserving/internal/service/secretary/v1"
	"github.com/golang-jwt/jwt"
)

var _ secretaryService.Secretary = (*Secretary)(nil)

// ErrInvalidToken is returned for tokens that parse but carry no usable identity.
var ErrInvalidToken = errors.New("invalid access token")

// Secretary defines object structure and its attributes.
type Secretary struct {
	key []byte
	ttl time.Duration
}

// NewSecretaryService initializes a secretary service with HMAC signing.
func NewSecretaryService(c *config.SecretConfig) (*Secretary, error) {
	if c == nil || c.SecretKey == "" {
		return nil, errors.New("empty secret key was found")
	}
	return &Secretary{
		key: []byte(c.SecretKey),
		ttl: 30 * time.Minute,
	}, nil
}

// ValidateToken verifies a signed token and returns the identity it carries.
func (s *Secretary) ValidateToken(accessToken string) (modelqueue.Identity, error) {
	token, err := jwt.ParseWithClaims(accessToken, &modelclaims.MyCustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return modelqueue.Identity{}, err
	}
	claims, ok := token.Claims.(*modelclaims.MyCustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return modelqueue.Identity{}, ErrInvalidToken
	}
	role := claims.Role
	if role == "" {
		role = modelqueue.RoleStudent
	}
	return modelqueue.Identity{
		UID:           claims.UserID,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Role:          role,
	}, nil
}

// NewToken signs a token for the identity.
func (s *Secretary) NewToken(identity modelqueue.Identity) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &modelclaims.MyCustomClaims{
		UserID:        identity.UID,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Role:          identity.Role,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(s.ttl).Unix(),
		},
	})
	return token.SignedString(s.key)
}
