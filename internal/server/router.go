// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
	"github.com/maruel/minum/internal/server/handlers"
	"github.com/maruel/minum/internal/server/ipgeo"
	"github.com/maruel/minum/internal/server/ratelimit"
)

// NewRouter creates and configures the HTTP router.
//
// geo may be nil, in which case only local addresses are classified.
func NewRouter(svc *handlers.Services, cfg *handlers.Config, limiters *ratelimit.Config, geo *ipgeo.Checker) http.Handler {
	mux := &http.ServeMux{}
	hh := handlers.NewHealthHandler(cfg.Version)
	ah := handlers.NewAuthHandler(svc.Auth)
	nh := handlers.NewNameHandler(svc.Names)
	uh := handlers.NewUserHandler(svc.Auth)

	// Health check
	mux.Handle("GET /api/health", Wrap(hh.Health, cfg, limiters))

	// Auth endpoints
	mux.Handle("POST /api/auth/register", Wrap(ah.Register, cfg, limiters))
	mux.Handle("POST /api/auth/login", Wrap(ah.Login, cfg, limiters))
	mux.Handle("POST /api/auth/logout", WrapAuth(ah.Logout, svc, cfg, limiters))
	mux.Handle("GET /api/auth/me", WrapAuth(ah.Me, svc, cfg, limiters))
	mux.Handle("GET /api/users", WrapAuth(uh.ListUsers, svc, cfg, limiters))

	// Names endpoints
	mux.Handle("GET /api/names", Wrap(nh.ListNames, cfg, limiters))
	mux.Handle("POST /api/names", WrapAuth(nh.CreateName, svc, cfg, limiters))
	mux.Handle("PUT /api/names/{index}", WrapAuth(nh.UpdateName, svc, cfg, limiters))
	mux.Handle("DELETE /api/names/{index}", WrapAuth(nh.DeleteName, svc, cfg, limiters))

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return withRequestMetadata(geo, accessLog(recoverPanic(mux)))
}
