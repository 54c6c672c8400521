// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/samber/oops"
)

// DefaultTokenTTL is the session token lifetime when none is configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

// TokenCodec issues and verifies session tokens.
type TokenCodec interface {
	// Issue mints a token for username with the codec's default lifetime.
	Issue(username string) (string, error)

	// Verify returns the username carried by a valid, unexpired token.
	// Every failure yields an error wrapping ErrUnauthenticated.
	Verify(token string) (string, error)
}

// tokenPayload is the signed part of a session token.
type tokenPayload struct {
	Username string `json:"username"`
	Exp      int64  `json:"exp"`
}

// HMACTokenCodec implements TokenCodec as base64url(JSON payload) + "." +
// base64url(HMAC-SHA256(payload segment)).
type HMACTokenCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// TokenOption configures an HMACTokenCodec.
type TokenOption func(*HMACTokenCodec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *HMACTokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec creates a codec signing with secret. A ttl <= 0 uses
// DefaultTokenTTL. An empty secret is rejected: there is no fallback key.
func NewTokenCodec(secret []byte, ttl time.Duration, opts ...TokenOption) (*HMACTokenCodec, error) {
	if len(secret) == 0 {
		return nil, oops.Code("CONFIG_SECRET_MISSING").Errorf("token signing secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	c := &HMACTokenCodec{
		secret: key,
		ttl:    ttl,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the default token lifetime.
func (c *HMACTokenCodec) TTL() time.Duration {
	return c.ttl
}

// Issue mints a token for username with the default lifetime.
func (c *HMACTokenCodec) Issue(username string) (string, error) {
	return c.IssueWithTTL(username, c.ttl)
}

// IssueWithTTL mints a token for username expiring ttl from now.
// Expiry has one-second resolution.
func (c *HMACTokenCodec) IssueWithTTL(username string, ttl time.Duration) (string, error) {
	if username == "" {
		return "", oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "username cannot be empty")
	}

	payload, err := json.Marshal(tokenPayload{
		Username: username,
		Exp:      c.now().Unix() + int64(ttl/time.Second),
	})
	if err != nil {
		return "", oops.Code("AUTH_TOKEN_ENCODE_FAILED").Wrap(err)
	}

	data := base64.RawURLEncoding.EncodeToString(payload)
	return data + "." + c.sign(data), nil
}

// Verify returns the username carried by token.
func (c *HMACTokenCodec) Verify(token string) (string, error) {
	data, sig, ok := strings.Cut(token, ".")
	if !ok || data == "" || sig == "" {
		return "", invalidToken()
	}

	// Compare the encoded form so that non-canonical base64 in the
	// signature segment cannot decode to the same MAC.
	if !hmac.Equal([]byte(c.sign(data)), []byte(sig)) {
		return "", invalidToken()
	}

	raw, err := base64.RawURLEncoding.DecodeString(data)
	if err != nil {
		return "", invalidToken()
	}

	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", invalidToken()
	}

	if payload.Exp < c.now().Unix() {
		return "", invalidToken()
	}
	if payload.Username == "" {
		return "", invalidToken()
	}

	return payload.Username, nil
}

func (c *HMACTokenCodec) sign(data string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(data))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// invalidToken is the single failure for every token problem.
func invalidToken() error {
	return oops.Code(CodeUnauthenticated).Wrap(ErrUnauthenticated)
}
