// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ResetToken authorizes one password change for an account.
type ResetToken struct {
	ID        ulid.ULID
	AccountID ulid.ULID
	TokenHash string
	CreatedAt time.Time
	// ExpiresAt is zero when the token never expires.
	ExpiresAt time.Time
}

// NewResetToken creates a ResetToken for the account. A zero ttl means no expiry.
func NewResetToken(accountID ulid.ULID, tokenHash string, ttl time.Duration) (*ResetToken, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if ttl < 0 {
		return nil, oops.Code("RESET_INVALID_TTL").With("ttl", ttl.String()).Errorf("ttl cannot be negative")
	}

	now := time.Now().UTC()
	reset := &ResetToken{
		ID:        ulid.Make(),
		AccountID: accountID,
		TokenHash: tokenHash,
		CreatedAt: now,
	}
	if ttl > 0 {
		reset.ExpiresAt = now.Add(ttl)
	}
	return reset, nil
}

// IsExpired reports whether the token has an expiry that lies before now.
func (r *ResetToken) IsExpired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// ResetTokenRepository manages reset token persistence.
type ResetTokenRepository interface {
	// Create stores a new reset token.
	Create(ctx context.Context, reset *ResetToken) error

	// GetByTokenHash retrieves a reset token by digest. Returns ErrNotFound if absent.
	GetByTokenHash(ctx context.Context, tokenHash string) (*ResetToken, error)

	// Delete removes a reset token. Returns ErrNotFound if it was already gone.
	Delete(ctx context.Context, id ulid.ULID) error

	// DeleteByAccount removes every reset token of an account and returns the count.
	DeleteByAccount(ctx context.Context, accountID ulid.ULID) (int64, error)
}
