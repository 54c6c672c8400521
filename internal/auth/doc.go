// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

// Package auth provides the authentication core for PricePulse.
//
// # Components
//
//   - CredentialStore - durable username to User mapping (see the filestore
//     and postgres subpackages)
//   - PasswordHasher - salted, iterated PBKDF2-HMAC-SHA512 credentials
//   - TokenCodec - stateless HMAC-SHA256 signed session tokens
//   - Service - the facade combining the above for registration, login,
//     password change, profile access and request authentication
//
// # Tokens
//
// Session tokens carry only a username and an absolute expiry. They are never
// stored server side, so a single token cannot be revoked before it expires.
// Rotating the signing secret invalidates every outstanding token at once and
// is the only revocation mechanism.
//
// # Errors
//
// All failures are oops errors with stable codes. Callers match them with
// errors.Is against the sentinels in errors.go. Token failures are never
// distinguished: a malformed, forged or expired token all yield
// ErrUnauthenticated.
package auth
