// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// ResetTokenRepository implements auth.ResetTokenRepository using PostgreSQL.
type ResetTokenRepository struct {
	db DBTX
}

// NewResetTokenRepository creates a new ResetTokenRepository.
func NewResetTokenRepository(db DBTX) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// Create stores a new reset token.
func (r *ResetTokenRepository) Create(ctx context.Context, reset *auth.ResetToken) error {
	var expiresAt *time.Time
	if !reset.ExpiresAt.IsZero() {
		expiresAt = &reset.ExpiresAt
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO reset_tokens (id, account_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`, reset.ID.String(), reset.AccountID.String(), reset.TokenHash, reset.CreatedAt, expiresAt)
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert reset token").
			With("account_id", reset.AccountID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset token by its digest.
func (r *ResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, account_id, token_hash, created_at, expires_at
		FROM reset_tokens
		WHERE token_hash = $1
	`, tokenHash)

	reset, err := scanReset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return reset, nil
}

// Delete removes a reset token.
func (r *ResetTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM reset_tokens WHERE id = $1`, id.String())
	if err != nil {
		return oops.Code("RESET_DELETE_FAILED").
			With("operation", "delete reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteByAccount removes all reset tokens of an account.
func (r *ResetTokenRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM reset_tokens WHERE account_id = $1`, accountID.String())
	if err != nil {
		return 0, oops.Code("RESET_DELETE_BY_ACCOUNT_FAILED").
			With("operation", "delete reset tokens by account").
			With("account_id", accountID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanReset scans a single row into a ResetToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanReset(row pgx.Row) (*auth.ResetToken, error) {
	var (
		idStr        string
		accountIDStr string
		tokenHash    string
		createdAt    time.Time
		expiresAt    *time.Time
	)

	err := row.Scan(&idStr, &accountIDStr, &tokenHash, &createdAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("RESET_SCAN_FAILED").With("operation", "scan reset token").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ID").With("id", idStr).Wrap(err)
	}
	accountID, err := ulid.Parse(accountIDStr)
	if err != nil {
		return nil, oops.Code("RESET_INVALID_ACCOUNT_ID").With("account_id", accountIDStr).Wrap(err)
	}

	reset := &auth.ResetToken{
		ID:        id,
		AccountID: accountID,
		TokenHash: tokenHash,
		CreatedAt: createdAt,
	}
	if expiresAt != nil {
		reset.ExpiresAt = *expiresAt
	}
	return reset, nil
}

// Compile-time interface check.
var _ auth.ResetTokenRepository = (*ResetTokenRepository)(nil)
