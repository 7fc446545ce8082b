// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"strings"
	"time"

	"github.com/maruel/minum/internal/config"
)

// Scope defines how rate limit keys are determined.
type Scope int

const (
	// ScopeIP uses client IP address as the rate limit key.
	ScopeIP Scope = iota
	// ScopeUser uses the authenticated user index as the rate limit key.
	ScopeUser
)

// Tier defines a rate limit tier with its limiter and scope.
type Tier struct {
	Name    string
	Limiter *Limiter
	Scope   Scope
}

// Config holds rate limiters for different tiers. A nil tier is unlimited.
type Config struct {
	Auth       *Tier
	Write      *Tier
	ReadAuth   *Tier
	ReadUnauth *Tier
}

// NewConfig builds the tiers from per minute limits. A limit of 0 disables
// the tier.
func NewConfig(rl *config.RateLimits) *Config {
	return &Config{
		Auth:       newTier("auth", rl.AuthPerMin, ScopeIP),
		Write:      newTier("write", rl.WritePerMin, ScopeUser),
		ReadAuth:   newTier("read", rl.ReadPerMin, ScopeUser),
		ReadUnauth: newTier("read", rl.ReadPerMin, ScopeIP),
	}
}

func newTier(name string, perMin int, scope Scope) *Tier {
	if perMin <= 0 {
		return nil
	}
	return &Tier{
		Name:    name,
		Limiter: NewLimiter(perMin, time.Minute, max(perMin/6, 1)),
		Scope:   scope,
	}
}

// MatchUnauth returns the tier for unauthenticated requests.
// Returns nil for paths that should not be rate limited.
func (c *Config) MatchUnauth(method, path string) *Tier {
	if !strings.HasPrefix(path, "/api/") || path == "/api/health" {
		return nil
	}
	if isAuthEndpoint(method, path) {
		return c.Auth
	}
	if method == http.MethodGet {
		return c.ReadUnauth
	}
	return nil
}

// MatchAuth returns the tier for authenticated requests.
// Returns nil for paths that should not be rate limited.
func (c *Config) MatchAuth(method, path string) *Tier {
	if !strings.HasPrefix(path, "/api/") || path == "/api/health" {
		return nil
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete:
		return c.Write
	case http.MethodGet:
		return c.ReadAuth
	}
	return nil
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	for _, t := range []*Tier{c.Auth, c.Write, c.ReadAuth, c.ReadUnauth} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}

func isAuthEndpoint(method, path string) bool {
	return method == http.MethodPost && (path == "/api/auth/login" || path == "/api/auth/register")
}
