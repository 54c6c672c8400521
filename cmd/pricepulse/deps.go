// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pricepulse/pricepulse/internal/auth"
	"github.com/pricepulse/pricepulse/internal/config"
	"github.com/pricepulse/pricepulse/internal/observability"
)

// ObservabilityServer is the metrics and health endpoint server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the credential store.
	// Default: openStore
	StoreOpener func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (auth.CredentialStore, func(), error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// Listen binds the API listener.
	// Default: net.Listen
	Listen func(network, addr string) (net.Listener, error)

	// Signals delivers shutdown signals until the returned stop func runs.
	// Default: SIGINT and SIGTERM via signal.Notify
	Signals func() (<-chan os.Signal, func())
}

func (d *ServeDeps) withDefaults() *ServeDeps {
	out := ServeDeps{}
	if d != nil {
		out = *d
	}
	if out.StoreOpener == nil {
		out.StoreOpener = openStore
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.Listen == nil {
		out.Listen = net.Listen
	}
	if out.Signals == nil {
		out.Signals = func() (<-chan os.Signal, func()) {
			ch := make(chan os.Signal, 1)
			signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
			return ch, func() { signal.Stop(ch) }
		}
	}
	return &out
}
