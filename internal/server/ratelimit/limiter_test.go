package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maruel/minum/internal/config"
)

func TestLimiter_Allow(t *testing.T) {
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	for i := range 5 {
		res := l.Allow("k")
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if res.Limit != 5 {
			t.Errorf("Limit = %d, want 5", res.Limit)
		}
	}
	res := l.Allow("k")
	if res.Allowed {
		t.Fatal("6th request should be rate limited")
	}
	if res.RetryAfter < time.Second {
		t.Errorf("RetryAfter = %v, want >= 1s", res.RetryAfter)
	}
	if !l.Allow("other").Allowed {
		t.Error("keys must not share a bucket")
	}
	if got := l.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestLimiter_cleanup(t *testing.T) {
	l := NewLimiter(60, time.Minute, 1)
	defer l.Close()
	l.Allow("a")
	l.cleanup(time.Now().Add(time.Hour))
	if got := l.Len(); got != 0 {
		t.Errorf("Len() = %d after cleanup, want 0", got)
	}
	l.Close()
}

func TestConfig_Match(t *testing.T) {
	c := NewConfig(&config.RateLimits{AuthPerMin: 10, WritePerMin: 60, ReadPerMin: 0})
	defer c.Close()

	tests := []struct {
		name   string
		auth   bool
		method string
		path   string
		want   string
	}{
		{"health", false, "GET", "/api/health", ""},
		{"metrics", false, "GET", "/metrics", ""},
		{"login", false, "POST", "/api/auth/login", "auth"},
		{"register", false, "POST", "/api/auth/register", "auth"},
		{"read unlimited", false, "GET", "/api/names", ""},
		{"unauth post", false, "POST", "/api/names", ""},
		{"write post", true, "POST", "/api/names", "write"},
		{"write put", true, "PUT", "/api/names/1", "write"},
		{"write delete", true, "DELETE", "/api/names/1", "write"},
		{"auth read unlimited", true, "GET", "/api/names", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tier *Tier
			if tt.auth {
				tier = c.MatchAuth(tt.method, tt.path)
			} else {
				tier = c.MatchUnauth(tt.method, tt.path)
			}
			got := ""
			if tier != nil {
				got = tier.Name
			}
			if got != tt.want {
				t.Errorf("tier = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriteHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	WriteHeaders(w, Result{Allowed: false, Limit: 5, Remaining: 0, ResetAt: time.Unix(100, 0), RetryAfter: 3 * time.Second})
	h := w.Header()
	if h.Get("X-RateLimit-Limit") != "5" || h.Get("X-RateLimit-Reset") != "100" || h.Get("Retry-After") != "3" {
		t.Errorf("unexpected headers %v", h)
	}
	w = httptest.NewRecorder()
	WriteHeaders(w, Result{Allowed: true, Limit: 5, Remaining: 4})
	if w.Header().Get("Retry-After") != "" {
		t.Error("Retry-After must only be set when refused")
	}
}

func TestBuildKey(t *testing.T) {
	if got := BuildKey(ScopeIP, "1.2.3.4", "auth"); got != "ip:1.2.3.4:auth" {
		t.Errorf("got %q", got)
	}
	if got := BuildKey(ScopeUser, "7", "write"); got != "user:7:write" {
		t.Errorf("got %q", got)
	}
}
