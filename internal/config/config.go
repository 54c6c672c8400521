// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package config loads PricePulse configuration from defaults, an optional
// YAML file, the environment and command-line flags, in that order of
// increasing precedence.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/samber/oops"

	"github.com/pricepulse/pricepulse/internal/logging"
)

// Store drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
)

const redacted = "REDACTED"

// Config is the full application configuration.
type Config struct {
	HTTP    HTTPConfig    `koanf:"http" yaml:"http" json:"http"`
	Metrics MetricsConfig `koanf:"metrics" yaml:"metrics" json:"metrics"`
	Log     LogConfig     `koanf:"log" yaml:"log" json:"log"`
	Auth    AuthConfig    `koanf:"auth" yaml:"auth" json:"auth"`
	Store   StoreConfig   `koanf:"store" yaml:"store" json:"store"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr" yaml:"addr" json:"addr" jsonschema:"description=listen address for the API"`
	AllowedOrigins  []string      `koanf:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins" jsonschema:"description=CORS origins allowed to call the API; empty disables CORS"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr" json:"addr" jsonschema:"description=metrics and health listen address; empty disables"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format" json:"format" jsonschema:"enum=json,enum=text,enum=tint"`
	Level  string `koanf:"level" yaml:"level" json:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// AuthConfig configures hashing, tokens and login policy.
type AuthConfig struct {
	Secret       string          `koanf:"secret" yaml:"secret" json:"secret" jsonschema:"description=HMAC key for session tokens"`
	TokenTTL     time.Duration   `koanf:"token_ttl" yaml:"token_ttl" json:"token_ttl"`
	CookieName   string          `koanf:"cookie_name" yaml:"cookie_name" json:"cookie_name"`
	SecureCookie bool            `koanf:"secure_cookie" yaml:"secure_cookie" json:"secure_cookie" jsonschema:"description=set the Secure attribute on the session cookie"`
	Iterations   int             `koanf:"iterations" yaml:"iterations" json:"iterations" jsonschema:"minimum=1"`
	Bootstrap    BootstrapConfig `koanf:"bootstrap" yaml:"bootstrap" json:"bootstrap"`
	Throttle     ThrottleConfig  `koanf:"throttle" yaml:"throttle" json:"throttle"`
}

// BootstrapConfig configures the first-user login.
type BootstrapConfig struct {
	Enabled  bool   `koanf:"enabled" yaml:"enabled" json:"enabled"`
	Username string `koanf:"username" yaml:"username" json:"username"`
	Password string `koanf:"password" yaml:"password" json:"password"`
}

// ThrottleConfig bounds failed logins per username.
type ThrottleConfig struct {
	MaxFailures int           `koanf:"max_failures" yaml:"max_failures" json:"max_failures" jsonschema:"minimum=0,description=failed logins before lockout; 0 disables"`
	Lockout     time.Duration `koanf:"lockout" yaml:"lockout" json:"lockout"`
}

// StoreConfig selects the credential store.
type StoreConfig struct {
	Driver      string `koanf:"driver" yaml:"driver" json:"driver" jsonschema:"enum=file,enum=postgres"`
	Path        string `koanf:"path" yaml:"path" json:"path" jsonschema:"description=users file for the file driver; defaults to the XDG data directory"`
	DatabaseURL string `koanf:"database_url" yaml:"database_url" json:"database_url"`
}

// Default returns the built-in configuration. It has no auth secret.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":3000",
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9101"},
		Log:     LogConfig{Format: logging.FormatJSON, Level: "info"},
		Auth: AuthConfig{
			TokenTTL:   7 * 24 * time.Hour,
			CookieName: "session",
			Iterations: 310000,
			Bootstrap: BootstrapConfig{
				Enabled:  true,
				Username: "admin",
				Password: "admin",
			},
			Throttle: ThrottleConfig{MaxFailures: 7, Lockout: 15 * time.Minute},
		},
		Store: StoreConfig{Driver: DriverFile},
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return oops.Code("CONFIG_SECRET_MISSING").
			Hint("set PRICEPULSE_AUTH_SECRET or auth.secret").
			Errorf("auth secret is required")
	}
	if c.HTTP.Addr == "" {
		return invalid("http.addr", "listen address is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return invalid("auth.token_ttl", "must be positive")
	}
	if c.Auth.CookieName == "" {
		return invalid("auth.cookie_name", "cannot be empty")
	}
	if c.Auth.Iterations <= 0 {
		return invalid("auth.iterations", "must be positive")
	}
	if c.Auth.Bootstrap.Enabled && (c.Auth.Bootstrap.Username == "" || c.Auth.Bootstrap.Password == "") {
		return invalid("auth.bootstrap", "username and password are required when enabled")
	}
	if c.Auth.Throttle.MaxFailures < 0 {
		return invalid("auth.throttle.max_failures", "cannot be negative")
	}
	if c.Auth.Throttle.MaxFailures > 0 && c.Auth.Throttle.Lockout <= 0 {
		return invalid("auth.throttle.lockout", "must be positive when throttling is enabled")
	}
	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format", "must be json, text or tint")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "must be debug, info, warn or error")
	}
	return c.ValidateStore()
}

// ValidateStore checks only the store section. Commands that never issue
// tokens need nothing else.
func (c *Config) ValidateStore() error {
	switch c.Store.Driver {
	case DriverFile:
		if c.Store.Path == "" {
			return invalid("store.path", "is required for the file driver")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return invalid("store.database_url", "is required for the postgres driver")
		}
	default:
		return invalid("store.driver", "must be file or postgres")
	}
	return nil
}

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s %s", key, msg)
}

// Redacted returns a copy safe to print: secrets and database passwords are
// masked.
func (c Config) Redacted() Config {
	out := c
	out.HTTP.AllowedOrigins = slices.Clone(c.HTTP.AllowedOrigins)
	if out.Auth.Secret != "" {
		out.Auth.Secret = redacted
	}
	if out.Auth.Bootstrap.Password != "" {
		out.Auth.Bootstrap.Password = redacted
	}
	if u, err := url.Parse(out.Store.DatabaseURL); err == nil && u.User != nil {
		out.Store.DatabaseURL = u.Redacted()
	}
	return out
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(filepath.Clean(path))
	return err == nil && info.Mode().IsRegular()
}
