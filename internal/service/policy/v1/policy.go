// Package policy provides the admission domain policy loaded once at start.
package policy

import (
	"strings"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/config"
)

// Policy defines attributes of a struct available to its methods.
type Policy struct {
	domains        []string
	defaultTimeout time.Duration
}

// InitPolicy builds a policy from configuration. Empty domain entries are dropped and an empty
// resulting list allows every domain.
func InitPolicy(cfg *config.PolicyConfig) *Policy {
	var domains []string
	for _, d := range cfg.AllowedDomains {
		d = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(d), "@")))
		if d != "" {
			domains = append(domains, d)
		}
	}
	return &Policy{
		domains:        domains,
		defaultTimeout: cfg.DefaultTimeout(),
	}
}

// DomainAllowed reports whether the email ends with @domain for one of the allowed domains.
func (p *Policy) DomainAllowed(email string) bool {
	if len(p.domains) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, d := range p.domains {
		if strings.HasSuffix(email, "@"+d) {
			return true
		}
	}
	return false
}

// DefaultTimeout returns the no-show timeout for queues that do not set one.
func (p *Policy) DefaultTimeout() time.Duration {
	return p.defaultTimeout
}

// Domains returns a copy of the allowed domains.
func (p *Policy) Domains() []string {
	out := make([]string, len(p.domains))
	copy(out, p.domains)
	return out
}
