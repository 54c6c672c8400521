// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package main

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pricepulse/pricepulse/internal/auth"
	"github.com/pricepulse/pricepulse/internal/auth/filestore"
	"github.com/pricepulse/pricepulse/internal/auth/postgres"
	"github.com/pricepulse/pricepulse/internal/config"
	"github.com/pricepulse/pricepulse/internal/logging"
	"github.com/pricepulse/pricepulse/internal/store"
	"github.com/pricepulse/pricepulse/internal/xdg"
)

// Global flags available to all subcommands.
var (
	configFile string
	envFiles   []string
)

// NewRootCmd creates the root command for the PricePulse CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricepulse",
		Short: "PricePulse - price tracking with built-in accounts",
		Long: `PricePulse tracks prices for a small group of users. This binary runs
the authentication API and manages the user store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/pricepulse/config.yaml)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files merged under the environment")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig reads configuration for cmd. Flags registered with
// config.RegisterFlags on cmd take precedence.
func loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	return config.Load(config.LoadOptions{
		File:           configFile,
		DotEnv:         envFiles,
		Flags:          cmd.Flags(),
		SkipValidation: !validate,
	})
}

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault(logging.Options{
		Service: "pricepulse",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
	}), nil
}

// openStore opens the configured credential store. The returned func
// releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.CredentialStore, func(), error) {
	if err := cfg.ValidateStore(); err != nil {
		return nil, nil, err
	}
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := store.Connect(ctx, cfg.Store.DatabaseURL, store.ConnectOptions{})
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewCredentialStore(pool), pool.Close, nil
	default:
		if err := xdg.EnsureDir(filepath.Dir(cfg.Store.Path)); err != nil {
			return nil, nil, err
		}
		return filestore.New(cfg.Store.Path, filestore.WithLogger(logger)), func() {}, nil
	}
}
