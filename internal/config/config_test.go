package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_CreatesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.JWTSecret) != 64 {
		t.Errorf("expected a generated 64 character secret, got %d", len(cfg.JWTSecret))
	}
	if cfg.HTTPAddr != "localhost:8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
		t.Fatalf("config.yaml not written: %v", err)
	}

	// The secret is stable across loads.
	cfg2, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg2.JWTSecret != cfg.JWTSecret {
		t.Error("secret changed on reload")
	}
	if cfg2.SessionLifetime != 7*24*time.Hour {
		t.Errorf("SessionLifetime = %v", cfg2.SessionLifetime)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yml := `http_addr: 127.0.0.1:9000
log_level: debug
jwt_secret: 0123456789abcdef0123456789abcdef
session_lifetime: 30m
rate_limits:
  auth_per_min: 3
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	env := "LOG_LEVEL=warn\nSTOP_WAIT_COUNT=7\nUNRELATED=1\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf(".env should override the file, LogLevel = %q", cfg.LogLevel)
	}
	if cfg.SessionLifetime != 30*time.Minute {
		t.Errorf("SessionLifetime = %v", cfg.SessionLifetime)
	}
	if cfg.RateLimits.AuthPerMin != 3 || cfg.RateLimits.ReadPerMin != 6000 {
		t.Errorf("RateLimits = %+v", cfg.RateLimits)
	}
	if cfg.StopWaitCount != 7 {
		t.Errorf("StopWaitCount = %d", cfg.StopWaitCount)
	}
	if err := cfg.Validate(); err != nil {
		t.Error(err)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("STOP_WAIT_COUNT=many\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "STOP_WAIT_COUNT") {
		t.Errorf("err = %v", err)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("http_addr: [\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(dir); err == nil {
		t.Error("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default(t.TempDir())
		c.JWTSecret = strings.Repeat("x", 32)
		return c
	}
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"no listener", func(c *Config) { c.HTTPAddr = "" }, "http_addr"},
		{"https without cert", func(c *Config) { c.HTTPSAddr = ":8443" }, "tls_cert_file"},
		{"redirect without https", func(c *Config) { c.RedirectToHTTPS = true }, "redirect_to_https"},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "jwt_secret"},
		{"lifetime", func(c *Config) { c.SessionLifetime = 0 }, "session_lifetime"},
		{"review", func(c *Config) { c.SessionReviewInterval = -time.Second }, "session_review_interval"},
		{"rate", func(c *Config) { c.RateLimits.WritePerMin = -1 }, "write_per_min"},
		{"body", func(c *Config) { c.MaxRequestBodyBytes = -1 }, "max_request_body_bytes"},
		{"stop count", func(c *Config) { c.StopWaitCount = -1 }, "stop_wait_count"},
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestSet(t *testing.T) {
	c := Default(t.TempDir())
	for k, v := range map[string]string{
		"https":             ":8443",
		"TLS_CERT":          "cert.pem",
		"TLS_KEY":           "key.pem",
		"REDIRECT_TO_HTTPS": "true",
		"HOSTNAME":          "example.com",
		"GEO_DB":            "geo.mmdb",
		"SESSION_LIFETIME":  "2h",
	} {
		if err := c.Set(k, v); err != nil {
			t.Fatalf("Set(%q) failed: %v", k, err)
		}
	}
	if !c.TLSEnabled() || c.TLSCertFile != "cert.pem" || !c.RedirectToHTTPS || c.Hostname != "example.com" || c.GeoDB != "geo.mmdb" || c.SessionLifetime != 2*time.Hour {
		t.Errorf("unexpected config %+v", c)
	}
	if err := c.Set("REDIRECT_TO_HTTPS", "maybe"); err == nil {
		t.Error("expected an error")
	}
	if got, want := c.DBDir("users"), filepath.Join(c.DataDir, "db", "users"); got != want {
		t.Errorf("DBDir() = %q, want %q", got, want)
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{"debug": slog.LevelDebug, "info": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		got, err := ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("expected an error")
	}
}
