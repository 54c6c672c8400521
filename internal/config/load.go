// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/pricepulse/pricepulse/internal/auth/filestore"
	"github.com/pricepulse/pricepulse/internal/xdg"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PRICEPULSE_"

// envKeys maps environment variables to config keys. Unprefixed names are
// accepted for compatibility and lose to their prefixed form. Empty values
// count as unset.
var envKeys = []struct {
	name string
	key  string
}{
	{"AUTH_SECRET", "auth.secret"},
	{"DATABASE_URL", "store.database_url"},
	{EnvPrefix + "HTTP_ADDR", "http.addr"},
	{EnvPrefix + "HTTP_ALLOWED_ORIGINS", "http.allowed_origins"},
	{EnvPrefix + "HTTP_SHUTDOWN_TIMEOUT", "http.shutdown_timeout"},
	{EnvPrefix + "METRICS_ADDR", "metrics.addr"},
	{EnvPrefix + "LOG_FORMAT", "log.format"},
	{EnvPrefix + "LOG_LEVEL", "log.level"},
	{EnvPrefix + "AUTH_SECRET", "auth.secret"},
	{EnvPrefix + "AUTH_TOKEN_TTL", "auth.token_ttl"},
	{EnvPrefix + "AUTH_COOKIE_NAME", "auth.cookie_name"},
	{EnvPrefix + "AUTH_SECURE_COOKIE", "auth.secure_cookie"},
	{EnvPrefix + "AUTH_ITERATIONS", "auth.iterations"},
	{EnvPrefix + "AUTH_BOOTSTRAP_ENABLED", "auth.bootstrap.enabled"},
	{EnvPrefix + "AUTH_BOOTSTRAP_USERNAME", "auth.bootstrap.username"},
	{EnvPrefix + "AUTH_BOOTSTRAP_PASSWORD", "auth.bootstrap.password"},
	{EnvPrefix + "AUTH_THROTTLE_MAX_FAILURES", "auth.throttle.max_failures"},
	{EnvPrefix + "AUTH_THROTTLE_LOCKOUT", "auth.throttle.lockout"},
	{EnvPrefix + "STORE_DRIVER", "store.driver"},
	{EnvPrefix + "STORE_PATH", "store.path"},
	{EnvPrefix + "STORE_DATABASE_URL", "store.database_url"},
}

// flagKeys maps the flags registered by RegisterFlags to config keys.
var flagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"store":        "store.driver",
	"users-file":   "store.path",
	"database-url": "store.database_url",
}

// RegisterFlags adds the config overrides to fs. Only flags the user sets
// take effect; defaults come from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("addr", def.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", def.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("log-format", def.Log.Format, "log format (json, text, tint)")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("store", def.Store.Driver, "credential store driver (file, postgres)")
	fs.String("users-file", "", "users file for the file store")
	fs.String("database-url", "", "PostgreSQL connection URL for the postgres store")
}

// LoadOptions controls where Load reads from.
type LoadOptions struct {
	// File is an explicit config path. It must exist when set. When empty
	// the XDG config file is read if present.
	File string
	// DotEnv lists .env files merged under the process environment.
	// Missing files are skipped.
	DotEnv []string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Flags, when set, overrides everything else for flags that were
	// changed.
	Flags *pflag.FlagSet
	// SkipValidation returns the merged config without calling Validate.
	SkipValidation bool
}

// Load builds a validated Config.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")
	if err := setDefaults(k); err != nil {
		return nil, err
	}

	path, err := configPath(opts.File)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadFile(k, path); err != nil {
			return nil, err
		}
	}

	lookup, err := envLookup(opts)
	if err != nil {
		return nil, err
	}
	if err := loadEnv(k, lookup); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, flagValue(opts.Flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decode configuration")
	}

	if cfg.Store.Driver == DriverFile && cfg.Store.Path == "" {
		dir, err := xdg.DataDir()
		if err != nil {
			return nil, err
		}
		cfg.Store.Path = filepath.Join(dir, filestore.DefaultFileName)
	}

	if opts.SkipValidation {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(k *koanf.Koanf) error {
	def := Default()
	values := map[string]any{
		"http.addr":                  def.HTTP.Addr,
		"http.allowed_origins":       def.HTTP.AllowedOrigins,
		"http.shutdown_timeout":      def.HTTP.ShutdownTimeout,
		"metrics.addr":               def.Metrics.Addr,
		"log.format":                 def.Log.Format,
		"log.level":                  def.Log.Level,
		"auth.secret":                def.Auth.Secret,
		"auth.token_ttl":             def.Auth.TokenTTL,
		"auth.cookie_name":           def.Auth.CookieName,
		"auth.secure_cookie":         def.Auth.SecureCookie,
		"auth.iterations":            def.Auth.Iterations,
		"auth.bootstrap.enabled":     def.Auth.Bootstrap.Enabled,
		"auth.bootstrap.username":    def.Auth.Bootstrap.Username,
		"auth.bootstrap.password":    def.Auth.Bootstrap.Password,
		"auth.throttle.max_failures": def.Auth.Throttle.MaxFailures,
		"auth.throttle.lockout":      def.Auth.Throttle.Lockout,
		"store.driver":               def.Store.Driver,
		"store.path":                 def.Store.Path,
		"store.database_url":         def.Store.DatabaseURL,
	}
	for key, value := range values {
		if err := k.Set(key, value); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("source", "defaults").With("key", key).Wrap(err)
		}
	}
	return nil
}

// configPath resolves which file to read, or "" for none.
func configPath(explicit string) (string, error) {
	if explicit != "" {
		if !fileExists(explicit) {
			return "", oops.Code("CONFIG_FILE_NOT_FOUND").With("path", explicit).Errorf("config file %s not found", explicit)
		}
		return explicit, nil
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file, not a failure.
		return "", nil //nolint:nilerr // defaults and env still apply
	}
	if !fileExists(path) {
		return "", nil
	}
	return path, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func envLookup(opts LoadOptions) (func(string) (string, bool), error) {
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	dotenv := map[string]string{}
	for _, path := range opts.DotEnv {
		values, err := godotenv.Read(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("path", path).Wrap(err)
		}
		for name, value := range values {
			if _, seen := dotenv[name]; !seen {
				dotenv[name] = value
			}
		}
	}

	return func(name string) (string, bool) {
		if v, ok := lookup(name); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[name]
		return v, ok
	}, nil
}

func loadEnv(k *koanf.Koanf, lookup func(string) (string, bool)) error {
	for _, env := range envKeys {
		value, ok := lookup(env.name)
		if !ok || value == "" {
			continue
		}
		var v any = value
		if env.key == "http.allowed_origins" {
			v = splitList(value)
		}
		if err := k.Set(env.key, v); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("source", "env").With("variable", env.name).Wrap(err)
		}
	}
	return nil
}

func flagValue(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
