// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package filestore keeps users in a single JSON file.
//
// Writes go to a temporary file in the same directory which is synced and
// renamed over the target, so readers see either the old or the new
// contents. Mutations are serialised by a mutex and, where supported, an
// exclusive flock on a sibling .lock file so several processes can share
// one file.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/pricepulse/pricepulse/internal/auth"
)

// DefaultFileName is the store file name inside the data directory.
const DefaultFileName = "users.json"

const (
	dirPerm  fs.FileMode = 0o700
	filePerm fs.FileMode = 0o600
)

// Store implements auth.CredentialStore on a JSON file.
type Store struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
}

var _ auth.CredentialStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used to report a corrupt store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Store for path. Nothing is touched on disk until first use.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns all users. A missing file is created empty. An unreadable
// JSON document is logged and treated as an empty store.
func (s *Store) Load(ctx context.Context) ([]auth.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	users, err := s.read(ctx)
	if !errors.Is(err, fs.ErrNotExist) {
		return users, err
	}

	// Initialise under the lock so a concurrent first write is not clobbered.
	err = s.withLock(ctx, func() error {
		if _, statErr := os.Stat(s.path); statErr == nil {
			users, err = s.read(ctx)
			return err
		}
		users = []auth.User{}
		return s.write(users)
	})
	if err != nil {
		return nil, err
	}
	return users, nil
}

// Save atomically replaces the file contents with users.
func (s *Store) Save(ctx context.Context, users []auth.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		return s.write(users)
	})
}

// Exists reports whether username is registered.
func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	users, err := s.Load(ctx)
	if err != nil {
		return false, err
	}
	return auth.FindUser(users, username) >= 0, nil
}

// Update reads, applies fn and writes back while holding the store lock.
func (s *Store) Update(ctx context.Context, fn auth.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(ctx, func() error {
		users, err := s.read(ctx)
		if errors.Is(err, fs.ErrNotExist) {
			users, err = []auth.User{}, nil
		}
		if err != nil {
			return err
		}

		next, err := fn(users)
		if err != nil {
			return err
		}
		return s.write(next)
	})
}

// read parses the file. fs.ErrNotExist is returned unwrapped.
func (s *Store) read(ctx context.Context) ([]auth.User, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fs.ErrNotExist
	}
	if err != nil {
		return nil, auth.StoreIOError("read users file", err)
	}

	var users []auth.User
	if err := json.Unmarshal(raw, &users); err != nil {
		s.logger.WarnContext(ctx, "users file is corrupt; treating as empty",
			"path", s.path,
			"error", err,
		)
		return []auth.User{}, nil
	}
	if users == nil {
		users = []auth.User{}
	}
	return users, nil
}

// write replaces the file with users via temp file, fsync and rename.
func (s *Store) write(users []auth.User) error {
	if users == nil {
		users = []auth.User{}
	}
	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return auth.StoreIOError("encode users", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return auth.StoreIOError("create data directory", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return auth.StoreIOError("create temp file", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName) //nolint:errcheck // best effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close() //nolint:errcheck // write error takes precedence
		return auth.StoreIOError("write temp file", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		_ = tmp.Close() //nolint:errcheck // chmod error takes precedence
		return auth.StoreIOError("chmod temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close() //nolint:errcheck // sync error takes precedence
		return auth.StoreIOError("sync temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return auth.StoreIOError("close temp file", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return auth.StoreIOError("replace users file", err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// withLock runs fn holding the in-process mutex and the file lock.
func (s *Store) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), dirPerm); err != nil {
		return auth.StoreIOError("create data directory", err)
	}

	unlock, err := lockFile(s.path + ".lock")
	if err != nil {
		return auth.StoreIOError("lock users file", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.WarnContext(ctx, "failed to release users file lock", "path", s.path, "error", err)
		}
	}()

	return fn()
}

// syncDir flushes the directory entry of a rename. Failure only weakens
// durability across power loss, so it is ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()  //nolint:errcheck // not supported on every platform
	_ = d.Close() //nolint:errcheck // read-only handle
}
