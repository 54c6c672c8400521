// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package auth

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// Error codes attached to oops errors returned by this package.
const (
	CodeDuplicateUser      = "AUTH_DUPLICATE_USER"
	CodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
	CodeInvalidInput       = "AUTH_INVALID_INPUT"
	CodeStoreIO            = "STORE_IO_FAILED"
)

var (
	// ErrDuplicateUser is returned when registering a username that already exists.
	ErrDuplicateUser = errors.New("user already exists")

	// ErrUserNotFound is returned when a mutation targets an unknown username.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned for a failed login. It does not say
	// whether the user exists.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrUnauthenticated is returned for a missing, malformed, forged or
	// expired session token.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrInvalidInput is returned for a malformed username or an empty password.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreIO wraps persistence failures of a CredentialStore.
	ErrStoreIO = errors.New("credential store unavailable")
)

// StoreIOError marks err as a persistence failure of operation. The result
// matches both ErrStoreIO and err under errors.Is.
func StoreIOError(operation string, err error) error {
	return oops.Code(CodeStoreIO).
		With("operation", operation).
		Wrap(fmt.Errorf("%w: %w", ErrStoreIO, err))
}
