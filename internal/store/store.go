// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package store manages the PostgreSQL connection and schema used by the
// postgres credential backend.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tune how Connect waits for the database.
type ConnectOptions struct {
	// Attempts is the number of pings before giving up. Zero means 5.
	Attempts uint64
	// Backoff is the initial delay between pings, doubled each attempt.
	// Zero means 500ms.
	Backoff time.Duration
}

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// Connect opens a pool for dsn and waits until the server answers a ping.
func Connect(ctx context.Context, dsn string, opts ConnectOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse dsn").Wrap(err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	if err := waitForPing(ctx, pool, opts); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func waitForPing(ctx context.Context, db pinger, opts ConnectOptions) error {
	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 5
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	b := retry.WithMaxRetries(attempts-1, retry.NewExponential(backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping").
			With("attempts", attempts).
			Wrap(err)
	}
	return nil
}
