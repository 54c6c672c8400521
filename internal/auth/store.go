// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package auth

import (
	"context"
	"slices"
	"sync"
)

// UpdateFunc receives the current users and returns the users to persist.
// Returning an error aborts the update without writing.
type UpdateFunc func(users []User) ([]User, error)

// CredentialStore is the durable mapping from username to User.
type CredentialStore interface {
	// Load returns all users. A store that does not exist yet yields an
	// empty slice; a corrupt store is treated as empty.
	Load(ctx context.Context) ([]User, error)

	// Save atomically replaces the whole store with users.
	Save(ctx context.Context, users []User) error

	// Exists reports whether username is registered.
	Exists(ctx context.Context, username string) (bool, error)

	// Update runs Load, fn and Save while holding the store's exclusive
	// mutation lock. Errors from fn are returned unchanged.
	Update(ctx context.Context, fn UpdateFunc) error
}

// MemoryStore is an in-process CredentialStore. It is intended for tests
// and single-shot tooling.
type MemoryStore struct {
	mu    sync.Mutex
	users []User
}

// NewMemoryStore creates a MemoryStore seeded with users.
func NewMemoryStore(users ...User) *MemoryStore {
	return &MemoryStore{users: slices.Clone(users)}
}

// Load returns a copy of all users.
func (m *MemoryStore) Load(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(), nil
}

// Save replaces all users.
func (m *MemoryStore) Save(ctx context.Context, users []User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = slices.Clone(users)
	return nil
}

// Exists reports whether username is registered.
func (m *MemoryStore) Exists(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return FindUser(m.users, username) >= 0, nil
}

// Update applies fn under the store lock.
func (m *MemoryStore) Update(ctx context.Context, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := fn(m.snapshot())
	if err != nil {
		return err
	}
	m.users = slices.Clone(next)
	return nil
}

func (m *MemoryStore) snapshot() []User {
	out := make([]User, len(m.users))
	copy(out, m.users)
	return out
}
