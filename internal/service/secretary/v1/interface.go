// Package secretary provides methods for verifying and issuing bearer credentials.
package secretary

import "github.com/danilovkiri/dk-go-nowserving/internal/models/modelqueue"

// Secretary defines a set of methods for types implementing Secretary.
type Secretary interface {
	ValidateToken(accessToken string) (modelqueue.Identity, error)
	NewToken(identity modelqueue.Identity) (string, error)
}
