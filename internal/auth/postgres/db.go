// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package postgres provides PostgreSQL implementations of the auth repositories.
package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is a DBTX that can open transactions.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements auth.Store over a PostgreSQL pool.
type Store struct {
	pool Pool
}

// NewStore creates a Store.
func NewStore(pool Pool) *Store {
	return &Store{pool: pool}
}

// Accounts returns an account repository on the pool.
func (s *Store) Accounts() auth.AccountRepository {
	return NewAccountRepository(s.pool)
}

// ResetTokens returns a reset token repository on the pool.
func (s *Store) ResetTokens() auth.ResetTokenRepository {
	return NewResetTokenRepository(s.pool)
}

// WithinTx runs fn in a transaction. Errors from fn are returned unchanged.
func (s *Store) WithinTx(ctx context.Context, fn func(tx auth.Repositories) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return oops.Code("TX_BEGIN_FAILED").Wrap(err)
	}

	if err := fn(txRepositories{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.WarnContext(ctx, "transaction rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("TX_COMMIT_FAILED").Wrap(err)
	}
	return nil
}

type txRepositories struct {
	tx pgx.Tx
}

func (r txRepositories) Accounts() auth.AccountRepository {
	return NewAccountRepository(r.tx)
}

func (r txRepositories) ResetTokens() auth.ResetTokenRepository {
	return NewResetTokenRepository(r.tx)
}

// Compile-time interface check.
var _ auth.Store = (*Store)(nil)
