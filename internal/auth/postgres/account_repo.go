// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

const emailUniqueConstraint = "accounts_email_key"

const accountColumns = `id, full_name, email, password_hash, email_verified,
		pending_token_hash, pending_purpose, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, full_name, email, password_hash, email_verified,
			pending_token_hash, pending_purpose, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, account.ID.String(), account.FullName, account.Email, account.PasswordHash, account.EmailVerified,
		nullable(account.PendingTokenHash), nullable(string(account.PendingPurpose)),
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == emailUniqueConstraint {
			return oops.Code("ACCOUNT_DUPLICATE_EMAIL").
				With("account_id", account.ID.String()).
				Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByEmail retrieves an account by exact email.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// GetByPendingToken retrieves the account holding tokenHash for purpose.
func (r *AccountRepository) GetByPendingToken(ctx context.Context, tokenHash string, purpose auth.PendingPurpose) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+`
		FROM accounts
		WHERE pending_token_hash = $1 AND pending_purpose = $2
	`, tokenHash, string(purpose))

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("purpose", string(purpose)).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// ConsumePendingToken verifies the email and clears the pending token in one
// conditional update.
func (r *AccountRepository) ConsumePendingToken(ctx context.Context, id ulid.ULID, tokenHash string, purpose auth.PendingPurpose) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET email_verified = TRUE, pending_token_hash = NULL, pending_purpose = NULL, updated_at = NOW()
		WHERE id = $1 AND pending_token_hash = $2 AND pending_purpose = $3
	`, id.String(), tokenHash, string(purpose))
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "consume pending token").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_TOKEN_CONFLICT").With("account_id", id.String()).Wrap(auth.ErrConflict)
	}
	return nil
}

// UpdatePassword replaces the password hash.
func (r *AccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, id.String(), passwordHash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update password").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// RehashPassword replaces the password hash if it still equals currentHash.
func (r *AccountRepository) RehashPassword(ctx context.Context, id ulid.ULID, currentHash, newHash string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET password_hash = $3, updated_at = NOW() WHERE id = $1 AND password_hash = $2
	`, id.String(), currentHash, newHash)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "rehash password").
			With("account_id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_HASH_CONFLICT").With("account_id", id.String()).Wrap(auth.ErrConflict)
	}
	return nil
}

// scanAccount scans a single row into an Account.
// Callers are responsible for handling pgx.ErrNoRows.
func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		idStr          string
		account        auth.Account
		pendingHash    *string
		pendingPurpose *string
		createdAt      time.Time
		updatedAt      time.Time
	)

	err := row.Scan(&idStr, &account.FullName, &account.Email, &account.PasswordHash, &account.EmailVerified,
		&pendingHash, &pendingPurpose, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("ACCOUNT_SCAN_FAILED").With("operation", "scan account").Wrap(err)
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").With("id", idStr).Wrap(err)
	}

	account.ID = id
	if pendingHash != nil {
		account.PendingTokenHash = *pendingHash
	}
	if pendingPurpose != nil {
		account.PendingPurpose = auth.PendingPurpose(*pendingPurpose)
	}
	account.CreatedAt = createdAt
	account.UpdatedAt = updatedAt
	return &account, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface check.
var _ auth.AccountRepository = (*AccountRepository)(nil)
