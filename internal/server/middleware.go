// Request metadata, access logging and panic recovery.

package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/maruel/minum/internal/server/dto"
	"github.com/maruel/minum/internal/server/ipgeo"
	"github.com/maruel/minum/internal/server/reqctx"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// withRequestMetadata stores the client IP, User-Agent and country in the
// request context.
func withRequestMetadata(geo *ipgeo.Checker, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := reqctx.GetClientIP(r)
		ctx := reqctx.WithClientIP(r.Context(), ip)
		ctx = reqctx.WithUserAgent(ctx, r.Header.Get("User-Agent"))
		ctx = reqctx.WithCountryCode(ctx, geo.CountryCode(ip))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// accessLog logs one line per request and counts responses per status code.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		ctx := r.Context()
		metrics.GetOrCreateCounter(fmt.Sprintf(`minum_http_requests_total{code="%d"}`, rec.status)).Inc()
		slog.InfoContext(ctx, "http",
			"m", r.Method,
			"p", r.URL.Path,
			"s", rec.status,
			"d", time.Since(start).Round(time.Millisecond/10),
			"ip", reqctx.ClientIP(ctx),
			"cc", reqctx.CountryCode(ctx),
		)
	})
}

// recoverPanic turns a handler panic into a 500 response.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler { //nolint:errorlint // sentinel compared as a panic value
					panic(v)
				}
				slog.ErrorContext(r.Context(), "Handler panicked", "err", v, "path", r.URL.Path)
				writeAPIError(w, dto.Internal("internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RedirectHandler answers every request with a redirect to the same path on
// the HTTPS listener.
func RedirectHandler(hostname, httpsAddr string) http.Handler {
	host := hostname
	if _, port, err := net.SplitHostPort(httpsAddr); err == nil && port != "" && port != "443" {
		host = net.JoinHostPort(hostname, port)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://"+host+r.URL.RequestURI(), http.StatusSeeOther)
	})
}
