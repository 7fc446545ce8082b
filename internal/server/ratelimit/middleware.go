// Provides HTTP headers and key helpers for rate limiting.

package ratelimit

import (
	"net/http"
	"strconv"
)

// WriteHeaders writes rate limit headers to the response.
// Retry-After is only set when the request was refused.
func WriteHeaders(w http.ResponseWriter, result Result) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
	if !result.Allowed {
		h.Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
	}
}

// BuildKey creates a rate limit bucket key from scope, identifier, and tier name.
func BuildKey(scope Scope, identifier, tierName string) string {
	var prefix string
	switch scope {
	case ScopeIP:
		prefix = "ip"
	case ScopeUser:
		prefix = "user"
	default:
		prefix = "unknown"
	}
	return prefix + ":" + identifier + ":" + tierName
}
