// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package xdg resolves XDG Base Directory paths for PricePulse.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "pricepulse"

// ConfigFileName is the config file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

// base returns $env, or $HOME joined with fallback.
func base(env string, fallback ...string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_HOME_UNKNOWN").With("env", env).Wrap(err)
	}
	return filepath.Join(append([]string{home}, fallback...)...), nil
}

// ConfigDir returns $XDG_CONFIG_HOME/pricepulse, defaulting to ~/.config.
func ConfigDir() (string, error) {
	dir, err := base("XDG_CONFIG_HOME", ".config")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// ConfigFile returns the default config file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// DataDir returns $XDG_DATA_HOME/pricepulse, defaulting to ~/.local/share.
// The file credential store lives here.
func DataDir() (string, error) {
	dir, err := base("XDG_DATA_HOME", ".local", "share")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName), nil
}

// EnsureDir creates path and its parents with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_MKDIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
