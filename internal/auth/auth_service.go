// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// DefaultCookieName is the cookie carrying the session token.
const DefaultCookieName = "session"

// Metric labels recorded by Service.
const (
	OperationRegister       = "register"
	OperationLogin          = "login"
	OperationChangePassword = "change_password"
	OperationAuthenticate   = "authenticate"

	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"
)

// MetricsRecorder receives authentication outcomes.
type MetricsRecorder interface {
	RecordAuthAttempt(operation, result string)
	RecordTokenIssued()
}

type noopMetrics struct{}

func (noopMetrics) RecordAuthAttempt(string, string) {}
func (noopMetrics) RecordTokenIssued()               {}

// Bootstrap is the reserved credential pair accepted by Login while the
// store holds no users. It creates the first account.
type Bootstrap struct {
	Username string
	Password string
}

// dummyCredential is verified when a user doesn't exist so that a failed
// login takes the same time either way. It never matches any password.
var dummyCredential = PasswordHash{
	Hash: strings.Repeat("00", KeyLength),
	Salt: strings.Repeat("00", SaltBytes),
}

// Service provides authentication operations.
type Service struct {
	store      CredentialStore
	hasher     PasswordHasher
	tokens     TokenCodec
	logger     *slog.Logger
	metrics    MetricsRecorder
	cookieName string
	bootstrap  *Bootstrap
}

// ServiceOption configures a Service.
type ServiceOption func(*Service) error

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger == nil {
			return oops.Code("AUTH_INVALID_CONFIG").Errorf("logger cannot be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithMetrics sets the recorder for authentication outcomes.
func WithMetrics(m MetricsRecorder) ServiceOption {
	return func(s *Service) error {
		if m == nil {
			return oops.Code("AUTH_INVALID_CONFIG").Errorf("metrics recorder cannot be nil")
		}
		s.metrics = m
		return nil
	}
}

// WithCookieName sets the cookie AuthenticateRequest reads.
func WithCookieName(name string) ServiceOption {
	return func(s *Service) error {
		if name == "" {
			return oops.Code("AUTH_INVALID_CONFIG").Errorf("cookie name cannot be empty")
		}
		s.cookieName = name
		return nil
	}
}

// WithBootstrap enables the first-user bootstrap login.
func WithBootstrap(b Bootstrap) ServiceOption {
	return func(s *Service) error {
		if b.Username == "" || b.Password == "" {
			return oops.Code("AUTH_INVALID_CONFIG").Errorf("bootstrap username and password are required")
		}
		s.bootstrap = &b
		return nil
	}
}

// NewService creates a new Service.
func NewService(store CredentialStore, hasher PasswordHasher, tokens TokenCodec, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("credential store is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token codec is required")
	}

	s := &Service{
		store:      store,
		hasher:     hasher,
		tokens:     tokens,
		logger:     slog.Default(),
		metrics:    noopMetrics{},
		cookieName: DefaultCookieName,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CookieName returns the name of the session cookie.
func (s *Service) CookieName() string {
	return s.cookieName
}

// HasUsers reports whether at least one user is registered.
func (s *Service) HasUsers(ctx context.Context) (bool, error) {
	users, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	return len(users) > 0, nil
}

// Register creates a user with a freshly salted credential and an empty profile.
func (s *Service) Register(ctx context.Context, username, password string) error {
	if err := ValidateUsername(username); err != nil {
		return err
	}
	if err := ValidatePassword(password); err != nil {
		return err
	}

	// Hash before taking the store lock; only load/save is serialised.
	cred, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").With("operation", "hash password").Wrap(err)
	}

	err = s.store.Update(ctx, func(users []User) ([]User, error) {
		if FindUser(users, username) >= 0 {
			return nil, oops.Code(CodeDuplicateUser).
				With("username", username).
				Wrap(ErrDuplicateUser)
		}
		u := User{Username: username}
		u.SetCredential(cred)
		return append(users, u), nil
	})
	if err != nil {
		s.recordOutcome(ctx, OperationRegister, username, err)
		return err
	}

	s.metrics.RecordAuthAttempt(OperationRegister, ResultSuccess)
	s.logger.InfoContext(ctx, "user registered", "username", username)
	return nil
}

// VerifyCredentials reports whether password is correct for username.
// An unknown user and a wrong password both return (false, nil).
func (s *Service) VerifyCredentials(ctx context.Context, username, password string) (bool, error) {
	_, ok, err := s.verify(ctx, username, password)
	return ok, err
}

// verify returns the matched user so Login can upgrade its credential.
func (s *Service) verify(ctx context.Context, username, password string) (User, bool, error) {
	users, err := s.store.Load(ctx)
	if err != nil {
		return User{}, false, err
	}

	idx := FindUser(users, username)
	if idx < 0 {
		// Still derive a key so response time does not reveal existence.
		stored := dummyCredential
		stored.Iterations = DefaultIterations
		if h, ok := s.hasher.(*PBKDF2Hasher); ok {
			stored.Iterations = h.Iterations()
		}
		_, _ = s.hasher.Verify(password, stored) //nolint:errcheck // only the elapsed time matters
		return User{}, false, nil
	}

	user := users[idx]
	ok, err := s.hasher.Verify(password, user.Credential())
	if err != nil {
		// A malformed record cannot be logged into; report it internally only.
		s.logger.ErrorContext(ctx, "stored credential is malformed",
			"username", username,
			"error", err,
		)
		return User{}, false, nil
	}
	return user, ok, nil
}

// Login verifies credentials and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if s.bootstrap != nil {
		if err := s.bootstrapFirstUser(ctx, username, password); err != nil {
			s.recordOutcome(ctx, OperationLogin, username, err)
			return "", err
		}
	}

	user, ok, err := s.verify(ctx, username, password)
	if err != nil {
		s.recordOutcome(ctx, OperationLogin, username, err)
		return "", err
	}
	if !ok {
		err := oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
		s.recordOutcome(ctx, OperationLogin, username, err)
		return "", err
	}

	if s.hasher.NeedsUpgrade(user.Credential()) {
		s.upgradeCredential(ctx, user, password)
	}

	token, err := s.tokens.Issue(username)
	if err != nil {
		err = oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue token").Wrap(err)
		s.recordOutcome(ctx, OperationLogin, username, err)
		return "", err
	}

	s.metrics.RecordAuthAttempt(OperationLogin, ResultSuccess)
	s.metrics.RecordTokenIssued()
	s.logger.InfoContext(ctx, "user logged in", "username", username)
	return token, nil
}

// errBootstrapClosed aborts a bootstrap Update that finds users present.
var errBootstrapClosed = errors.New("bootstrap closed")

// bootstrapFirstUser creates the bootstrap account when the store is empty.
// Any other credentials are rejected while no user exists. Emptiness is
// checked again under the store lock, so a registration that lands between
// the two checks closes the bootstrap path.
func (s *Service) bootstrapFirstUser(ctx context.Context, username, password string) error {
	hasUsers, err := s.HasUsers(ctx)
	if err != nil {
		return err
	}
	if hasUsers {
		return nil
	}

	if username != s.bootstrap.Username || password != s.bootstrap.Password {
		return oops.Code(CodeInvalidCredentials).Wrap(ErrInvalidCredentials)
	}

	cred, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").With("operation", "hash password").Wrap(err)
	}

	err = s.store.Update(ctx, func(users []User) ([]User, error) {
		if len(users) > 0 {
			return nil, errBootstrapClosed
		}
		u := User{Username: username}
		u.SetCredential(cred)
		return append(users, u), nil
	})
	switch {
	case errors.Is(err, errBootstrapClosed):
		// Someone registered first; normal verification decides.
		return nil
	case err != nil:
		return err
	}

	s.metrics.RecordAuthAttempt(OperationRegister, ResultSuccess)
	s.logger.WarnContext(ctx, "bootstrap user created; change its password", "username", username)
	return nil
}

// upgradeCredential re-hashes a verified password with the current work
// factor. Failures are logged; login succeeds regardless.
func (s *Service) upgradeCredential(ctx context.Context, user User, password string) {
	cred, err := s.hasher.Hash(password)
	if err != nil {
		return
	}
	err = s.store.Update(ctx, func(users []User) ([]User, error) {
		idx := FindUser(users, user.Username)
		// Skip if the password changed since it was verified.
		if idx < 0 || users[idx].Salt != user.Salt {
			return users, nil
		}
		users[idx].SetCredential(cred)
		return users, nil
	})
	if err != nil {
		s.logger.WarnContext(ctx, "credential upgrade failed", "username", user.Username, "error", err)
	}
}

// ChangePassword replaces the credential of username with a freshly salted one.
func (s *Service) ChangePassword(ctx context.Context, username, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}

	cred, err := s.hasher.Hash(newPassword)
	if err != nil {
		return oops.Code("AUTH_HASH_FAILED").With("operation", "hash password").Wrap(err)
	}

	err = s.store.Update(ctx, func(users []User) ([]User, error) {
		idx := FindUser(users, username)
		if idx < 0 {
			return nil, oops.Code(CodeUserNotFound).
				With("username", username).
				Wrap(ErrUserNotFound)
		}
		users[idx].SetCredential(cred)
		return users, nil
	})
	if err != nil {
		s.recordOutcome(ctx, OperationChangePassword, username, err)
		return err
	}

	s.metrics.RecordAuthAttempt(OperationChangePassword, ResultSuccess)
	s.logger.InfoContext(ctx, "password changed", "username", username)
	return nil
}

// GetProfile returns the profile of username, or an empty profile for an
// unknown user.
func (s *Service) GetProfile(ctx context.Context, username string) (Profile, error) {
	users, err := s.store.Load(ctx)
	if err != nil {
		return Profile{}, err
	}
	if idx := FindUser(users, username); idx >= 0 {
		return users[idx].Profile, nil
	}
	return Profile{}, nil
}

// SetProfile merges update into the profile of username.
func (s *Service) SetProfile(ctx context.Context, username string, update ProfileUpdate) error {
	return s.store.Update(ctx, func(users []User) ([]User, error) {
		idx := FindUser(users, username)
		if idx < 0 {
			return nil, oops.Code(CodeUserNotFound).
				With("username", username).
				Wrap(ErrUserNotFound)
		}
		users[idx].Profile = users[idx].Profile.Merge(update)
		return users, nil
	})
}

// AuthenticateToken returns the username carried by a valid session token.
func (s *Service) AuthenticateToken(token string) (string, error) {
	if token == "" {
		return "", oops.Code(CodeUnauthenticated).Wrap(ErrUnauthenticated)
	}
	username, err := s.tokens.Verify(token)
	if err != nil || username == "" {
		return "", oops.Code(CodeUnauthenticated).Wrap(ErrUnauthenticated)
	}
	return username, nil
}

// AuthenticateRequest returns the username of the session cookie on r.
// It never reads the credential store.
func (s *Service) AuthenticateRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		s.metrics.RecordAuthAttempt(OperationAuthenticate, ResultFailure)
		return "", oops.Code(CodeUnauthenticated).Wrap(ErrUnauthenticated)
	}
	username, err := s.AuthenticateToken(cookie.Value)
	if err != nil {
		s.metrics.RecordAuthAttempt(OperationAuthenticate, ResultFailure)
		return "", err
	}
	s.metrics.RecordAuthAttempt(OperationAuthenticate, ResultSuccess)
	return username, nil
}

// recordOutcome classifies err for metrics and logs.
func (s *Service) recordOutcome(ctx context.Context, operation, username string, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		// The username of a failed login is often a mistyped password, so it
		// only appears at debug level.
		s.metrics.RecordAuthAttempt(operation, ResultFailure)
		s.logger.DebugContext(ctx, "invalid credentials",
			"operation", operation,
			"username", username,
		)
	case errors.Is(err, ErrDuplicateUser),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInvalidInput):
		s.metrics.RecordAuthAttempt(operation, ResultFailure)
		s.logger.WarnContext(ctx, "authentication operation rejected",
			"operation", operation,
			"username", username,
			"error", err.Error(),
		)
	default:
		s.metrics.RecordAuthAttempt(operation, ResultError)
		s.logger.ErrorContext(ctx, "authentication operation failed",
			"operation", operation,
			"username", username,
			"error", err,
		)
	}
}
