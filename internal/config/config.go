// Manages runtime configuration stored in config.yaml and .env.

// Package config builds the runtime configuration from defaults, the data
// directory files and command line flags.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	fileName = "config.yaml"
	envName  = ".env"
)

// Config holds every setting of the server.
type Config struct {
	// DataDir is the root of all persisted state. It's never written to the
	// config file.
	DataDir string `yaml:"-"`

	// HTTPAddr is the plain HTTP listen address.
	HTTPAddr string `yaml:"http_addr"`
	// HTTPSAddr is the TLS listen address. Empty disables TLS.
	HTTPSAddr   string `yaml:"https_addr,omitempty"`
	TLSCertFile string `yaml:"tls_cert_file,omitempty"`
	TLSKeyFile  string `yaml:"tls_key_file,omitempty"`
	// RedirectToHTTPS makes the plain HTTP listener answer every request with
	// a redirect to the TLS listener.
	RedirectToHTTPS bool `yaml:"redirect_to_https,omitempty"`
	// Hostname is used to build redirect URLs.
	Hostname string `yaml:"hostname"`

	LogLevel string `yaml:"log_level"`

	// JWTSecret signs session tokens. Generated on first run.
	JWTSecret string `yaml:"jwt_secret"`
	// SessionLifetime is how long a session stays valid after creation.
	SessionLifetime time.Duration `yaml:"session_lifetime"`
	// SessionReviewInterval is how often expired sessions are purged.
	SessionReviewInterval time.Duration `yaml:"session_review_interval"`

	RateLimits RateLimits `yaml:"rate_limits"`

	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// GeoDB is the path to a MaxMind MMDB file. Empty disables lookups.
	GeoDB string `yaml:"geo_db,omitempty"`

	// StopWaitCount and StopWaitInterval bound how long shutdown waits for
	// each collection to flush to disk.
	StopWaitCount    int           `yaml:"stop_wait_count"`
	StopWaitInterval time.Duration `yaml:"stop_wait_interval"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// AuthPerMin limits login and registration attempts per IP.
	// 0 means unlimited.
	AuthPerMin int `yaml:"auth_per_min"`
	// WritePerMin limits mutations per IP. 0 means unlimited.
	WritePerMin int `yaml:"write_per_min"`
	// ReadPerMin limits reads per IP. 0 means unlimited.
	ReadPerMin int `yaml:"read_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.AuthPerMin < 0 {
		return errors.New("auth_per_min must be non-negative")
	}
	if r.WritePerMin < 0 {
		return errors.New("write_per_min must be non-negative")
	}
	if r.ReadPerMin < 0 {
		return errors.New("read_per_min must be non-negative")
	}
	return nil
}

// Default returns the configuration used when nothing overrides it.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:               dataDir,
		HTTPAddr:              "localhost:8080",
		Hostname:              "localhost",
		LogLevel:              "info",
		SessionLifetime:       7 * 24 * time.Hour,
		SessionReviewInterval: time.Hour,
		RateLimits: RateLimits{
			AuthPerMin:  10,
			WritePerMin: 120,
			ReadPerMin:  6000,
		},
		MaxRequestBodyBytes: 1 << 20, // 1 MiB
		StopWaitCount:       50,
		StopWaitInterval:    20 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" && c.HTTPSAddr == "" {
		return errors.New("at least one of http_addr or https_addr is required")
	}
	if c.HTTPSAddr != "" && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("https_addr requires tls_cert_file and tls_key_file")
	}
	if c.RedirectToHTTPS && c.HTTPSAddr == "" {
		return errors.New("redirect_to_https requires https_addr")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.SessionLifetime <= 0 {
		return errors.New("session_lifetime must be positive")
	}
	if c.SessionReviewInterval <= 0 {
		return errors.New("session_review_interval must be positive")
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if c.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if c.StopWaitCount < 0 {
		return errors.New("stop_wait_count must be non-negative")
	}
	if c.StopWaitInterval < 0 {
		return errors.New("stop_wait_interval must be non-negative")
	}
	return nil
}

// Load reads dataDir/config.yaml then applies dataDir/.env on top of it.
//
// The config file is created with defaults if it doesn't exist. A JWT secret
// is generated and saved if none is set.
func Load(dataDir string) (*Config, error) {
	cfg := Default(dataDir)
	path := filepath.Join(dataDir, fileName)
	missing := false
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", fileName, err)
		}
		missing = true
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}

	modified := false
	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		modified = true
	}
	if modified || missing {
		if err := cfg.Save(); err != nil {
			return nil, err
		}
	}

	env, err := LoadDotEnv(dataDir)
	if err != nil {
		return nil, err
	}
	for k, v := range env {
		if err := cfg.Set(k, v); err != nil {
			return nil, fmt.Errorf("%s: %w", envName, err)
		}
	}
	return cfg, nil
}

// LoadDotEnv returns the variables in dataDir/.env, or an empty map when the
// file doesn't exist.
func LoadDotEnv(dataDir string) (map[string]string, error) {
	env, err := godotenv.Read(filepath.Join(dataDir, envName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", envName, err)
	}
	return env, nil
}

// Save writes the configuration to DataDir/config.yaml.
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(c.DataDir, fileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	return nil
}

// Set overrides one setting by its environment variable name. Unknown keys
// are ignored so .env can hold unrelated variables.
func (c *Config) Set(key, value string) error {
	var err error
	switch strings.ToUpper(key) {
	case "HTTP":
		c.HTTPAddr = value
	case "HTTPS":
		c.HTTPSAddr = value
	case "TLS_CERT":
		c.TLSCertFile = value
	case "TLS_KEY":
		c.TLSKeyFile = value
	case "REDIRECT_TO_HTTPS":
		c.RedirectToHTTPS, err = strconv.ParseBool(value)
	case "HOSTNAME":
		c.Hostname = value
	case "LOG_LEVEL":
		c.LogLevel = value
	case "GEO_DB":
		c.GeoDB = value
	case "SESSION_LIFETIME":
		c.SessionLifetime, err = time.ParseDuration(value)
	case "SESSION_REVIEW_INTERVAL":
		c.SessionReviewInterval, err = time.ParseDuration(value)
	case "MAX_REQUEST_BODY_BYTES":
		c.MaxRequestBodyBytes, err = strconv.ParseInt(value, 10, 64)
	case "STOP_WAIT_COUNT":
		c.StopWaitCount, err = strconv.Atoi(value)
	case "STOP_WAIT_INTERVAL":
		c.StopWaitInterval, err = time.ParseDuration(value)
	}
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

// Secret returns the JWT signing key.
func (c *Config) Secret() []byte {
	return []byte(c.JWTSecret)
}

// DBDir returns the directory holding the named collection.
func (c *Config) DBDir(name string) string {
	return filepath.Join(c.DataDir, "db", name)
}

// TLSEnabled reports whether the HTTPS listener should start.
func (c *Config) TLSEnabled() bool {
	return c.HTTPSAddr != ""
}
