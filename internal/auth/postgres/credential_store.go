// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package postgres provides a PostgreSQL-backed auth.CredentialStore for
// deployments that run more than one process against the same users.
package postgres

import (
	"context"
	"errors"
	"slices"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/pricepulse/pricepulse/internal/auth"
)

// updateLockKey is the advisory lock serialising read-modify-write cycles
// across processes. The value is arbitrary but must be shared by all writers.
const updateLockKey int64 = 0x70707573657273 // "ppusers"

const selectUsersSQL = `SELECT username, hash, salt, iterations, profile_name, profile_email, profile_contact
FROM users ORDER BY created_at, username`

const upsertUserSQL = `INSERT INTO users (username, hash, salt, iterations, profile_name, profile_email, profile_contact)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (username) DO UPDATE SET
	hash = EXCLUDED.hash,
	salt = EXCLUDED.salt,
	iterations = EXCLUDED.iterations,
	profile_name = EXCLUDED.profile_name,
	profile_email = EXCLUDED.profile_email,
	profile_contact = EXCLUDED.profile_contact,
	updated_at = now()
WHERE (users.hash, users.salt, users.iterations, users.profile_name, users.profile_email, users.profile_contact)
	IS DISTINCT FROM (EXCLUDED.hash, EXCLUDED.salt, EXCLUDED.iterations, EXCLUDED.profile_name, EXCLUDED.profile_email, EXCLUDED.profile_contact)`

const deleteMissingSQL = `DELETE FROM users WHERE NOT (username = ANY($1))`

// querier is the query surface shared by pools and transactions.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// poolIface is satisfied by *pgxpool.Pool and pgxmock pools.
type poolIface interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CredentialStore implements auth.CredentialStore on the users table.
type CredentialStore struct {
	pool poolIface
}

var _ auth.CredentialStore = (*CredentialStore)(nil)

// NewCredentialStore creates a store using pool. The schema must already be
// migrated.
func NewCredentialStore(pool poolIface) *CredentialStore {
	return &CredentialStore{pool: pool}
}

// Load returns all users ordered by registration.
func (s *CredentialStore) Load(ctx context.Context) ([]auth.User, error) {
	return loadUsers(ctx, s.pool)
}

// Exists reports whether username is registered.
func (s *CredentialStore) Exists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, auth.StoreIOError("check user exists", err)
	}
	return exists, nil
}

// Save replaces the contents of the users table in one transaction.
func (s *CredentialStore) Save(ctx context.Context, users []auth.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return auth.StoreIOError("begin save", err)
	}
	if err := writeUsers(ctx, tx, users); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return auth.StoreIOError("commit save", err)
	}
	return nil
}

// Update runs fn inside a transaction holding the users advisory lock, so
// concurrent writers in any process see each other's changes.
func (s *CredentialStore) Update(ctx context.Context, fn auth.UpdateFunc) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return auth.StoreIOError("begin update", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, updateLockKey); err != nil {
		rollback(ctx, tx)
		return auth.StoreIOError("acquire update lock", err)
	}

	users, err := loadUsers(ctx, tx)
	if err != nil {
		rollback(ctx, tx)
		return err
	}

	next, err := fn(users)
	if err != nil {
		rollback(ctx, tx)
		return err
	}

	if err := writeUsers(ctx, tx, next); err != nil {
		rollback(ctx, tx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return auth.StoreIOError("commit update", err)
	}
	return nil
}

func loadUsers(ctx context.Context, q querier) ([]auth.User, error) {
	rows, err := q.Query(ctx, selectUsersSQL)
	if err != nil {
		return nil, auth.StoreIOError("query users", err)
	}
	defer rows.Close()

	users := []auth.User{}
	for rows.Next() {
		var u auth.User
		if err := rows.Scan(
			&u.Username, &u.Hash, &u.Salt, &u.Iterations,
			&u.Profile.Name, &u.Profile.Email, &u.Profile.Contact,
		); err != nil {
			return nil, auth.StoreIOError("scan user row", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StoreIOError("iterate users", err)
	}
	return users, nil
}

// writeUsers upserts users and deletes every row not among them.
func writeUsers(ctx context.Context, q querier, users []auth.User) error {
	names := make([]string, 0, len(users))
	for _, u := range users {
		if slices.Contains(names, u.Username) {
			return oops.Code(auth.CodeDuplicateUser).
				With("username", u.Username).
				Wrap(auth.ErrDuplicateUser)
		}
		names = append(names, u.Username)
	}

	for _, u := range users {
		_, err := q.Exec(ctx, upsertUserSQL,
			u.Username, u.Hash, u.Salt, u.Iterations,
			u.Profile.Name, u.Profile.Email, u.Profile.Contact,
		)
		if err != nil {
			return classify("upsert user", u.Username, err)
		}
	}

	if _, err := q.Exec(ctx, deleteMissingSQL, names); err != nil {
		return auth.StoreIOError("delete removed users", err)
	}
	return nil
}

// classify maps constraint violations onto the auth error taxonomy.
func classify(operation, username string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.CardinalityViolation:
			return oops.Code(auth.CodeDuplicateUser).
				With("username", username).
				Wrap(auth.ErrDuplicateUser)
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
			return oops.Code(auth.CodeInvalidInput).
				With("username", username).
				With("constraint", pgErr.ConstraintName).
				Wrapf(auth.ErrInvalidInput, "user record rejected by database")
		}
	}
	return auth.StoreIOError(operation, err)
}

// rollback aborts tx after a failed step. The step's error is what callers
// need, so a rollback failure is ignored.
func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx) //nolint:errcheck // original error takes precedence
}
