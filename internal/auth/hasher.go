// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package auth

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"io"

	"github.com/samber/oops"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2 parameters.
const (
	DefaultIterations = 310000 // OWASP floor for PBKDF2-HMAC-SHA512
	SaltBytes         = 16
	KeyLength         = 64
)

// ErrEmptyPassword is returned when attempting to hash an empty password.
var ErrEmptyPassword = oops.Code("AUTH_EMPTY_PASSWORD").Errorf("password cannot be empty")

// PasswordHash is the stored form of a password.
// Hash and Salt are hex encoded; Iterations is kept per record so older
// records stay verifiable after the default is raised.
type PasswordHash struct {
	Hash       string
	Salt       string
	Iterations int
}

// PasswordHasher provides password hashing and verification.
type PasswordHasher interface {
	// Hash derives a credential with a fresh salt and the default iterations.
	Hash(password string) (PasswordHash, error)

	// HashWithSalt derives a credential with the given salt and iterations.
	// An empty salt generates a fresh one; iterations <= 0 use the default.
	HashWithSalt(password, salt string, iterations int) (PasswordHash, error)

	// Verify checks if the password matches the stored credential.
	// Returns (true, nil) on match, (false, nil) on mismatch, or error on a
	// malformed credential.
	Verify(password string, stored PasswordHash) (bool, error)

	// NeedsUpgrade returns true if the credential uses fewer iterations than
	// the current default.
	NeedsUpgrade(stored PasswordHash) bool
}

// PBKDF2Hasher implements PasswordHasher using PBKDF2 with HMAC-SHA512.
type PBKDF2Hasher struct {
	iterations int
	rand       io.Reader
}

// HasherOption configures a PBKDF2Hasher.
type HasherOption func(*PBKDF2Hasher)

// WithIterations overrides the default iteration count. Values <= 0 are ignored.
func WithIterations(n int) HasherOption {
	return func(h *PBKDF2Hasher) {
		if n > 0 {
			h.iterations = n
		}
	}
}

// WithRandReader overrides the salt source.
func WithRandReader(r io.Reader) HasherOption {
	return func(h *PBKDF2Hasher) {
		if r != nil {
			h.rand = r
		}
	}
}

// NewPBKDF2Hasher creates a new PBKDF2Hasher.
func NewPBKDF2Hasher(opts ...HasherOption) *PBKDF2Hasher {
	h := &PBKDF2Hasher{
		iterations: DefaultIterations,
		rand:       rand.Reader,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Iterations returns the iteration count used for new credentials.
func (h *PBKDF2Hasher) Iterations() int {
	return h.iterations
}

// Hash derives a credential with a fresh salt.
func (h *PBKDF2Hasher) Hash(password string) (PasswordHash, error) {
	return h.HashWithSalt(password, "", h.iterations)
}

// HashWithSalt derives a credential with the given salt and iterations.
func (h *PBKDF2Hasher) HashWithSalt(password, salt string, iterations int) (PasswordHash, error) {
	if password == "" {
		return PasswordHash{}, ErrEmptyPassword
	}
	if iterations <= 0 {
		iterations = h.iterations
	}

	if salt == "" {
		raw := make([]byte, SaltBytes)
		if _, err := io.ReadFull(h.rand, raw); err != nil {
			return PasswordHash{}, oops.Code("AUTH_SALT_FAILED").
				With("requested_bytes", SaltBytes).
				Wrap(err)
		}
		salt = hex.EncodeToString(raw)
	}

	// The hex text of the salt is the PBKDF2 salt, not its decoded bytes.
	// Records written by earlier releases depend on this.
	key := pbkdf2.Key([]byte(password), []byte(salt), iterations, KeyLength, sha512.New)

	return PasswordHash{
		Hash:       hex.EncodeToString(key),
		Salt:       salt,
		Iterations: iterations,
	}, nil
}

// Verify checks if the password matches the stored credential.
func (h *PBKDF2Hasher) Verify(password string, stored PasswordHash) (bool, error) {
	if stored.Salt == "" {
		return false, oops.Code("AUTH_INVALID_HASH").Errorf("stored salt is empty")
	}
	if stored.Iterations <= 0 {
		return false, oops.Code("AUTH_INVALID_HASH").
			With("iterations", stored.Iterations).
			Errorf("stored iteration count must be positive")
	}

	expected, err := hex.DecodeString(stored.Hash)
	if err != nil {
		return false, oops.Code("AUTH_INVALID_HASH").Wrap(err)
	}
	if len(expected) != KeyLength {
		return false, oops.Code("AUTH_INVALID_HASH").
			With("length", len(expected)).
			Errorf("stored hash must be %d bytes", KeyLength)
	}

	computed := pbkdf2.Key([]byte(password), []byte(stored.Salt), stored.Iterations, KeyLength, sha512.New)

	// Constant-time comparison
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// NeedsUpgrade returns true if the credential predates the current work factor.
func (h *PBKDF2Hasher) NeedsUpgrade(stored PasswordHash) bool {
	return stored.Iterations < h.iterations
}
