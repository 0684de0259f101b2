// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// PendingPurpose names the one-time action an account's pending token authorizes.
type PendingPurpose string

// PurposeVerifyEmail is the only pending purpose: proving control of the email address.
const PurposeVerifyEmail PendingPurpose = "verify-email"

// Account is a registered user.
//
// PendingTokenHash and PendingPurpose are set and cleared together.
// EmailVerified only ever moves from false to true.
type Account struct {
	ID               ulid.ULID
	FullName         string
	Email            string
	PasswordHash     string
	EmailVerified    bool
	PendingTokenHash string
	PendingPurpose   PendingPurpose
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewAccount creates an unverified account awaiting email verification.
// pendingTokenHash is the digest of the verification token, see HashToken.
func NewAccount(fullName, email, passwordHash, pendingTokenHash string) (*Account, error) {
	if strings.TrimSpace(fullName) == "" {
		return nil, oops.Code("ACCOUNT_INVALID_NAME").Errorf("full name cannot be empty")
	}
	if email == "" {
		return nil, oops.Code("ACCOUNT_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if passwordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	if pendingTokenHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_TOKEN").Errorf("pending token hash cannot be empty")
	}

	now := time.Now().UTC()
	return &Account{
		ID:               ulid.Make(),
		FullName:         fullName,
		Email:            email,
		PasswordHash:     passwordHash,
		PendingTokenHash: pendingTokenHash,
		PendingPurpose:   PurposeVerifyEmail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// HasPending reports whether a one-time action is outstanding.
func (a *Account) HasPending() bool {
	return a.PendingTokenHash != "" && a.PendingPurpose != ""
}

// Profile returns the fields safe to expose to the account holder.
func (a *Account) Profile() Profile {
	return Profile{
		ID:       a.ID,
		FullName: a.FullName,
		Email:    a.Email,
	}
}

// Profile is the minimal public view of an Account.
type Profile struct {
	ID       ulid.ULID
	FullName string
	Email    string
}

// AccountRepository manages account persistence.
// Emails are compared exactly; no case folding or trimming is applied.
type AccountRepository interface {
	// Create stores a new account. Returns ErrDuplicateEmail if the email is taken.
	Create(ctx context.Context, account *Account) error

	// GetByID retrieves an account by ID. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email. Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// GetByPendingToken retrieves the account whose pending token digest and
	// purpose both match. Returns ErrNotFound if none does.
	GetByPendingToken(ctx context.Context, tokenHash string, purpose PendingPurpose) (*Account, error)

	// ConsumePendingToken marks the email verified and clears the pending
	// fields, only if the account still holds tokenHash for purpose.
	// Returns ErrConflict if the condition no longer holds.
	ConsumePendingToken(ctx context.Context, id ulid.ULID, tokenHash string, purpose PendingPurpose) error

	// UpdatePassword replaces the password hash. Returns ErrNotFound if the account is gone.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// RehashPassword replaces the password hash only if it still equals
	// currentHash. Returns ErrConflict otherwise.
	RehashPassword(ctx context.Context, id ulid.ULID, currentHash, newHash string) error
}
