// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package memory provides in-process implementations of the auth repositories.
// It is intended for development and tests; nothing survives a restart.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep/internal/auth"
)

type state struct {
	accounts map[ulid.ULID]auth.Account
	resets   map[ulid.ULID]auth.ResetToken
}

func (s *state) clone() *state {
	return &state{
		accounts: maps.Clone(s.accounts),
		resets:   maps.Clone(s.resets),
	}
}

// Store implements auth.Store in memory. Every call holds a single mutex, so
// WithinTx is fully serialized with all other access.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{state: &state{
		accounts: make(map[ulid.ULID]auth.Account),
		resets:   make(map[ulid.ULID]auth.ResetToken),
	}}
}

// Accounts returns the account repository.
func (s *Store) Accounts() auth.AccountRepository {
	return &accountRepo{lock: s.lock, state: s.current}
}

// ResetTokens returns the reset token repository.
func (s *Store) ResetTokens() auth.ResetTokenRepository {
	return &resetRepo{lock: s.lock, state: s.current}
}

// WithinTx runs fn on a copy of the data and publishes it only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx auth.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return oops.Code("MEMORY_TX_FAILED").Wrap(err)
	}

	staged := s.state.clone()
	tx := &txRepos{state: staged}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = staged
	return nil
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) current() *state {
	return s.state
}

// txRepos vends repositories bound to a staged state. The store mutex is
// already held by WithinTx.
type txRepos struct {
	state *state
}

func noLock() func() { return func() {} }

func (t *txRepos) Accounts() auth.AccountRepository {
	return &accountRepo{lock: noLock, state: func() *state { return t.state }}
}

func (t *txRepos) ResetTokens() auth.ResetTokenRepository {
	return &resetRepo{lock: noLock, state: func() *state { return t.state }}
}

type accountRepo struct {
	lock  func() func()
	state func() *state
}

func (r *accountRepo) Create(_ context.Context, account *auth.Account) error {
	defer r.lock()()
	st := r.state()
	for _, existing := range st.accounts {
		if existing.Email == account.Email {
			return oops.Code("ACCOUNT_DUPLICATE_EMAIL").With("email", account.Email).Wrap(auth.ErrDuplicateEmail)
		}
	}
	if _, ok := st.accounts[account.ID]; ok {
		return oops.Code("ACCOUNT_CREATE_FAILED").With("account_id", account.ID.String()).Errorf("duplicate account id")
	}
	st.accounts[account.ID] = *account
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id ulid.ULID) (*auth.Account, error) {
	defer r.lock()()
	account, ok := r.state().accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	return &account, nil
}

func (r *accountRepo) GetByEmail(_ context.Context, email string) (*auth.Account, error) {
	defer r.lock()()
	for _, account := range r.state().accounts {
		if account.Email == email {
			return &account, nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *accountRepo) GetByPendingToken(_ context.Context, tokenHash string, purpose auth.PendingPurpose) (*auth.Account, error) {
	defer r.lock()()
	if tokenHash != "" {
		for _, account := range r.state().accounts {
			if account.PendingTokenHash == tokenHash && account.PendingPurpose == purpose {
				return &account, nil
			}
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *accountRepo) ConsumePendingToken(_ context.Context, id ulid.ULID, tokenHash string, purpose auth.PendingPurpose) error {
	defer r.lock()()
	st := r.state()
	account, ok := st.accounts[id]
	if !ok || account.PendingTokenHash != tokenHash || account.PendingPurpose != purpose {
		return oops.Code("ACCOUNT_TOKEN_CONFLICT").With("account_id", id.String()).Wrap(auth.ErrConflict)
	}
	account.EmailVerified = true
	account.PendingTokenHash = ""
	account.PendingPurpose = ""
	account.UpdatedAt = time.Now().UTC()
	st.accounts[id] = account
	return nil
}

func (r *accountRepo) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	defer r.lock()()
	st := r.state()
	account, ok := st.accounts[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("account_id", id.String()).Wrap(auth.ErrNotFound)
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now().UTC()
	st.accounts[id] = account
	return nil
}

func (r *accountRepo) RehashPassword(_ context.Context, id ulid.ULID, currentHash, newHash string) error {
	defer r.lock()()
	st := r.state()
	account, ok := st.accounts[id]
	if !ok || account.PasswordHash != currentHash {
		return oops.Code("ACCOUNT_HASH_CONFLICT").With("account_id", id.String()).Wrap(auth.ErrConflict)
	}
	account.PasswordHash = newHash
	account.UpdatedAt = time.Now().UTC()
	st.accounts[id] = account
	return nil
}

type resetRepo struct {
	lock  func() func()
	state func() *state
}

func (r *resetRepo) Create(_ context.Context, reset *auth.ResetToken) error {
	defer r.lock()()
	st := r.state()
	for _, existing := range st.resets {
		if existing.TokenHash == reset.TokenHash {
			return oops.Code("RESET_CREATE_FAILED").Errorf("duplicate token hash")
		}
	}
	st.resets[reset.ID] = *reset
	return nil
}

func (r *resetRepo) GetByTokenHash(_ context.Context, tokenHash string) (*auth.ResetToken, error) {
	defer r.lock()()
	for _, reset := range r.state().resets {
		if reset.TokenHash == tokenHash {
			return &reset, nil
		}
	}
	return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
}

func (r *resetRepo) Delete(_ context.Context, id ulid.ULID) error {
	defer r.lock()()
	st := r.state()
	if _, ok := st.resets[id]; !ok {
		return oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	delete(st.resets, id)
	return nil
}

func (r *resetRepo) DeleteByAccount(_ context.Context, accountID ulid.ULID) (int64, error) {
	defer r.lock()()
	st := r.state()
	var n int64
	for id, reset := range st.resets {
		if reset.AccountID == accountID {
			delete(st.resets, id)
			n++
		}
	}
	return n, nil
}

// Compile-time interface checks.
var (
	_ auth.Store                = (*Store)(nil)
	_ auth.AccountRepository    = (*accountRepo)(nil)
	_ auth.ResetTokenRepository = (*resetRepo)(nil)
)
