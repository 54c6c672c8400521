// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PricePulse Contributors

package auth

import (
	"strings"
	"unicode"

	"github.com/samber/oops"
)

// MaxUsernameLength bounds the size of a username.
const MaxUsernameLength = 128

// User is a registered account. The JSON layout matches the users.json file
// written by earlier releases, so existing stores load unchanged.
type User struct {
	Username   string  `json:"username"`
	Hash       string  `json:"hash"`
	Salt       string  `json:"salt"`
	Iterations int     `json:"iterations"`
	Profile    Profile `json:"profile"`
}

// Credential returns the stored password hash of the user.
func (u User) Credential() PasswordHash {
	return PasswordHash{Hash: u.Hash, Salt: u.Salt, Iterations: u.Iterations}
}

// SetCredential replaces the stored password hash of the user.
func (u *User) SetCredential(c PasswordHash) {
	u.Hash = c.Hash
	u.Salt = c.Salt
	u.Iterations = c.Iterations
}

// Profile holds optional contact details for a user.
type Profile struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// ProfileUpdate is a partial profile. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name    *string `json:"name,omitempty"`
	Email   *string `json:"email,omitempty"`
	Contact *string `json:"contact,omitempty"`
}

// Merge returns p with the non-nil fields of u applied.
func (p Profile) Merge(u ProfileUpdate) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Contact != nil {
		p.Contact = *u.Contact
	}
	return p
}

// IsEmpty reports whether the update carries no fields.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Email == nil && u.Contact == nil
}

// ValidateUsername checks that a username can be stored.
// Usernames are case-sensitive; only emptiness, length and control
// characters are rejected.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "username cannot be empty")
	}
	if len(username) > MaxUsernameLength {
		return oops.Code(CodeInvalidInput).
			With("max", MaxUsernameLength).
			Wrapf(ErrInvalidInput, "username must be at most %d bytes", MaxUsernameLength)
	}
	if strings.ContainsFunc(username, unicode.IsControl) {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "username cannot contain control characters")
	}
	return nil
}

// ValidatePassword checks that a password can be hashed.
func ValidatePassword(password string) error {
	if password == "" {
		return oops.Code(CodeInvalidInput).Wrapf(ErrInvalidInput, "password cannot be empty")
	}
	return nil
}

// FindUser returns the index of username in users, or -1.
func FindUser(users []User, username string) int {
	for i := range users {
		if users[i].Username == username {
			return i
		}
	}
	return -1
}
