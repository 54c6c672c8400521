// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/pricepulse/pricepulse/internal/auth"
	"github.com/pricepulse/pricepulse/internal/config"
	"github.com/pricepulse/pricepulse/internal/web"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication API server",
		Long: `Run the HTTP API serving registration, login, logout, profile and
password changes, plus a separate metrics and health listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the API until a signal arrives, ctx ends or a
// listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	credentials, closeStore, err := deps.StoreOpener(ctx, cfg, logger)
	if err != nil {
		return oops.With("operation", "open credential store").Wrap(err)
	}
	defer closeStore()
	logger.Info("credential store ready", "driver", cfg.Store.Driver)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load, logger)
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
	}

	svc, err := newAuthService(cfg, credentials, logger, obsServer)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	webOpts := web.Options{
		Logger:         logger,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TokenTTL:       cfg.Auth.TokenTTL,
		SecureCookie:   cfg.Auth.SecureCookie,
	}
	if obsServer != nil {
		webOpts.Metrics = obsServer.Metrics()
	}
	if cfg.Auth.Throttle.MaxFailures > 0 {
		webOpts.Throttle = web.NewLoginThrottle(cfg.Auth.Throttle.MaxFailures, cfg.Auth.Throttle.Lockout)
	}
	handler, err := web.NewHandler(svc, webOpts)
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}

	listener, err := deps.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()
	ready.Store(true)

	sigChan, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Println("PricePulse API listening on " + listener.Addr().String())
	logger.Info("api server ready", "addr", listener.Addr().String(), "store", cfg.Store.Driver)

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		serveErr = oops.Code("HTTP_SERVE_FAILED").Wrap(err)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

func newAuthService(cfg *config.Config, credentials auth.CredentialStore, logger *slog.Logger, obs ObservabilityServer) (*auth.Service, error) {
	tokens, err := auth.NewTokenCodec([]byte(cfg.Auth.Secret), cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	opts := []auth.ServiceOption{
		auth.WithLogger(logger),
		auth.WithCookieName(cfg.Auth.CookieName),
	}
	if obs != nil {
		opts = append(opts, auth.WithMetrics(obs.Metrics()))
	}
	if cfg.Auth.Bootstrap.Enabled {
		opts = append(opts, auth.WithBootstrap(auth.Bootstrap{
			Username: cfg.Auth.Bootstrap.Username,
			Password: cfg.Auth.Bootstrap.Password,
		}))
	}
	hasher := auth.NewPBKDF2Hasher(auth.WithIterations(cfg.Auth.Iterations))
	return auth.NewService(credentials, hasher, tokens, opts...)
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error(name+" server error", "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}

func stopObservability(obs ObservabilityServer, logger *slog.Logger) {
	if obs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obs.Stop(ctx); err != nil {
		logger.Warn("failed to stop observability server during cleanup", "error", err)
	}
}
