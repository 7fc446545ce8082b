// Package main is the entry point for the minum server.
//
// minum serves a small account and names API on top of collections persisted
// one file per record under the data directory. Configuration is read from
// config.yaml and .env in the data directory, then from CLI flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lmittmann/tint"
	"github.com/maruel/minum/internal/auth"
	"github.com/maruel/minum/internal/config"
	"github.com/maruel/minum/internal/database"
	"github.com/maruel/minum/internal/names"
	"github.com/maruel/minum/internal/server"
	"github.com/maruel/minum/internal/server/handlers"
	"github.com/maruel/minum/internal/server/ipgeo"
	"github.com/maruel/minum/internal/server/ratelimit"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// runningMarker exists in the data directory while the server runs.
const runningMarker = "SYSTEM_RUNNING"

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "minum: %v\n", err)
		os.Exit(1)
	}
}

// stopper is implemented by every database.DB.
type stopper interface {
	Dir() string
	StopWithin(count int, interval time.Duration) int
}

func mainImpl() error {
	version := flag.Bool("version", false, "Print version and exit")
	dataDir := flag.String("data-dir", "./data", "Data directory")
	flag.String("http", "localhost:8080", "HTTP address to listen on; empty disables plain HTTP")
	flag.String("https", "", "HTTPS address to listen on; requires -tls-cert and -tls-key")
	flag.String("tls-cert", "", "TLS certificate file")
	flag.String("tls-key", "", "TLS private key file")
	flag.Bool("redirect-to-https", false, "Redirect every plain HTTP request to HTTPS")
	flag.String("hostname", "localhost", "Host name used in HTTPS redirects")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation (optional)")
	flag.Parse()
	if len(flag.Args()) > 0 {
		return fmt.Errorf("unknown arguments: %v", flag.Args())
	}
	if *version {
		printVersion()
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	slog.SetDefault(newLogger(ll))

	cfg, err := config.Load(*dataDir)
	if err != nil {
		return err
	}
	// Flags only override the files when explicitly set.
	var flagErr error
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "version" || f.Name == "data-dir" || flagErr != nil {
			return
		}
		flagErr = cfg.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})
	if flagErr != nil {
		return flagErr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	ll.Set(level)

	opts := &database.Options{Logger: slog.Default()}
	users, err := database.New(cfg.DBDir("users"), auth.DeserializeUser, opts)
	if err != nil {
		return fmt.Errorf("failed to open users: %w", err)
	}
	sessions, err := database.New(cfg.DBDir("sessions"), auth.DeserializeSession, opts)
	if err != nil {
		return fmt.Errorf("failed to open sessions: %w", err)
	}
	nameDB, err := database.New(cfg.DBDir("names"), names.Deserialize, opts)
	if err != nil {
		return fmt.Errorf("failed to open names: %w", err)
	}
	collections := []stopper{users, sessions, nameDB}
	defer stopCollections(collections, cfg)

	authSvc, err := auth.NewService(sessions, users, auth.Config{
		Secret:   cfg.Secret(),
		Lifetime: cfg.SessionLifetime,
		Secure:   cfg.TLSEnabled(),
	})
	if err != nil {
		return err
	}
	if n, err := authSvc.ReviewSessions(time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "Removed expired sessions", "count", n)
	}
	// Deferred after stopCollections so it runs first.
	stopReviewer := authSvc.StartSessionReviewer(ctx, cfg.SessionReviewInterval)
	defer stopReviewer()

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	var geoChecker *ipgeo.Checker
	if cfg.GeoDB != "" {
		if geoChecker, err = ipgeo.Open(cfg.GeoDB); err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geoChecker.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", cfg.GeoDB)
	}

	limiters := ratelimit.NewConfig(&cfg.RateLimits)
	defer limiters.Close()

	buildVersion, _, _, _ := getBuildInfo()
	svc := &handlers.Services{Auth: authSvc, Names: names.NewService(nameDB)}
	router := server.NewRouter(svc, &handlers.Config{Version: buildVersion, MaxRequestBodyBytes: cfg.MaxRequestBodyBytes}, limiters, geoChecker)

	var servers []*http.Server
	newServer := func(addr string, h http.Handler) *http.Server {
		s := &http.Server{
			Addr:              addr,
			Handler:           h,
			BaseContext:       func(_ net.Listener) context.Context { return ctx },
			ReadHeaderTimeout: 10 * time.Second,
		}
		servers = append(servers, s)
		return s
	}
	serverErr := make(chan error, 2)
	if cfg.HTTPAddr != "" {
		h := router
		if cfg.RedirectToHTTPS {
			h = server.RedirectHandler(cfg.Hostname, cfg.HTTPSAddr)
		}
		s := newServer(cfg.HTTPAddr, h)
		go func() {
			slog.InfoContext(ctx, "Starting server", "addr", s.Addr, "version", buildVersion)
			serverErr <- s.ListenAndServe()
		}()
	}
	if cfg.TLSEnabled() {
		s := newServer(cfg.HTTPSAddr, router)
		go func() {
			slog.InfoContext(ctx, "Starting TLS server", "addr", s.Addr, "version", buildVersion)
			serverErr <- s.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		}()
	}

	marker := filepath.Join(cfg.DataDir, runningMarker)
	if err := os.WriteFile(marker, []byte("This file indicates the system is running.\n"), 0o600); err != nil {
		slog.WarnContext(ctx, "Failed to write marker", "err", err)
	}
	defer func() { _ = os.Remove(marker) }()

	var result error
	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			result = fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	stop()
	stopReviewer()
	slog.InfoContext(ctx, "Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil && result == nil {
			result = fmt.Errorf("shutdown error: %w", err)
		}
	}
	slog.InfoContext(ctx, "Server stopped")
	return result
}

// stopCollections flushes every collection to disk.
func stopCollections(collections []stopper, cfg *config.Config) {
	for _, c := range collections {
		if n := c.StopWithin(cfg.StopWaitCount, cfg.StopWaitInterval); n != 0 {
			slog.Error("Collection stopped with pending writes", "dir", c.Dir(), "dropped", n)
		}
	}
}

func newLogger(ll *slog.LevelVar) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop localhost IPs (not useful in logs).
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case int64:
				skip = t == 0
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("minum %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}

// watchExecutable watches the current executable for modifications and calls
// stop to trigger graceful shutdown when detected.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
