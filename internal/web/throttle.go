// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package web

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// Default login throttle policy.
const (
	DefaultMaxFailures = 7
	DefaultLockout     = 15 * time.Minute
)

// pendingRetry is the Retry-After given to an attempt refused because
// earlier attempts for the same username are still being verified.
const pendingRetry = time.Second

type failureRecord struct {
	count       int
	inflight    int
	lockedUntil time.Time
}

// LoginThrottle locks a username out after too many consecutive failed
// logins. Each attempt reserves a slot with Begin before the password is
// checked, so concurrent guesses count against the same budget. Records
// expire after the lockout window. It is safe for concurrent use.
type LoginThrottle struct {
	mu          sync.Mutex
	failures    *cache.Cache
	maxFailures int
	lockout     time.Duration
	now         func() time.Time
}

// NewLoginThrottle returns a throttle. Non-positive arguments select the
// defaults.
func NewLoginThrottle(maxFailures int, lockout time.Duration) *LoginThrottle {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxFailures
	}
	if lockout <= 0 {
		lockout = DefaultLockout
	}
	return &LoginThrottle{
		failures:    cache.New(lockout, lockout),
		maxFailures: maxFailures,
		lockout:     lockout,
		now:         time.Now,
	}
}

// RetryAfter returns how long username remains locked out, or 0.
func (t *LoginThrottle) RetryAfter(username string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, _ := t.current(username)
	return t.lockRemaining(rec)
}

// Begin reserves an attempt for username. It returns false and a retry
// delay when username is locked, or when failures plus attempts still in
// flight already reach the limit. Every successful Begin must be followed
// by exactly one of Fail, Release or Reset.
func (t *LoginThrottle) Begin(username string) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, _ := t.current(username)
	if wait := t.lockRemaining(rec); wait > 0 {
		return wait, false
	}
	if rec.count+rec.inflight >= t.maxFailures {
		return pendingRetry, false
	}
	rec.inflight++
	t.failures.Set(username, rec, cache.DefaultExpiration)
	return 0, true
}

// Fail records a failed login and reports whether username is now locked.
func (t *LoginThrottle) Fail(username string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, _ := t.current(username)
	if rec.inflight > 0 {
		rec.inflight--
	}
	rec.count++
	if rec.count >= t.maxFailures && rec.lockedUntil.IsZero() {
		rec.lockedUntil = t.now().Add(t.lockout)
	}
	t.failures.Set(username, rec, cache.DefaultExpiration)
	return !rec.lockedUntil.IsZero()
}

// Release returns a reservation whose attempt ended without a verdict on
// the password, such as a store error.
func (t *LoginThrottle) Release(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.current(username)
	if !ok || rec.inflight == 0 {
		return
	}
	rec.inflight--
	t.failures.Set(username, rec, cache.DefaultExpiration)
}

// Reset forgets failures for username after a successful login.
func (t *LoginThrottle) Reset(username string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures.Delete(username)
}

// current returns the record for username, dropping it once its lockout
// has ended. Callers hold t.mu.
func (t *LoginThrottle) current(username string) (failureRecord, bool) {
	rec, ok := t.get(username)
	if ok && !rec.lockedUntil.IsZero() && !t.now().Before(rec.lockedUntil) {
		t.failures.Delete(username)
		return failureRecord{}, false
	}
	return rec, ok
}

func (t *LoginThrottle) lockRemaining(rec failureRecord) time.Duration {
	if rec.lockedUntil.IsZero() {
		return 0
	}
	return max(rec.lockedUntil.Sub(t.now()), 0)
}

func (t *LoginThrottle) get(username string) (failureRecord, bool) {
	v, ok := t.failures.Get(username)
	if !ok {
		return failureRecord{}, false
	}
	rec, ok := v.(failureRecord)
	return rec, ok
}

func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(int(math.Ceil(d.Seconds())))
}
