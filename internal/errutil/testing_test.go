// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"

	"github.com/pricepulse/pricepulse/internal/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("AUTH_DUPLICATE_USER").Errorf("user already exists")
	errutil.AssertErrorCode(t, err, "AUTH_DUPLICATE_USER")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("username", "alice").Errorf("user not found")
	errutil.AssertErrorContext(t, err, "username", "alice")
}

func TestAssertErrorIs_WrappedSentinel(t *testing.T) {
	sentinel := errors.New("unauthenticated")
	err := oops.Code("AUTH_UNAUTHENTICATED").Wrap(sentinel)
	errutil.AssertErrorIs(t, err, sentinel, "AUTH_UNAUTHENTICATED")
}
