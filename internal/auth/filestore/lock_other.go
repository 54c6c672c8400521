// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

//go:build !unix

package filestore

// lockFile is a no-op where flock is unavailable; only the in-process mutex
// applies, so a file store must not be shared between processes there.
func lockFile(string) (func() error, error) {
	return func() error { return nil }, nil
}
