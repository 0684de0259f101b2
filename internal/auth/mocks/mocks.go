// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/gatekeep/gatekeep/internal/auth"
)

type cleanupT interface {
	mock.TestingT
	Cleanup(func())
}

func register(m *mock.Mock, t cleanupT) {
	m.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t cleanupT) *MockAccountRepository {
	m := &MockAccountRepository{}
	register(&m.Mock, t)
	return m
}

func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	return m.Called(ctx, account).Error(0)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*auth.Account, error) {
	args := m.Called(ctx, email)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *MockAccountRepository) GetByPendingToken(ctx context.Context, tokenHash string, purpose auth.PendingPurpose) (*auth.Account, error) {
	args := m.Called(ctx, tokenHash, purpose)
	account, _ := args.Get(0).(*auth.Account)
	return account, args.Error(1)
}

func (m *MockAccountRepository) ConsumePendingToken(ctx context.Context, id ulid.ULID, tokenHash string, purpose auth.PendingPurpose) error {
	return m.Called(ctx, id, tokenHash, purpose).Error(0)
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error {
	return m.Called(ctx, id, passwordHash).Error(0)
}

func (m *MockAccountRepository) RehashPassword(ctx context.Context, id ulid.ULID, currentHash, newHash string) error {
	return m.Called(ctx, id, currentHash, newHash).Error(0)
}

// MockResetTokenRepository mocks auth.ResetTokenRepository.
type MockResetTokenRepository struct {
	mock.Mock
}

// NewMockResetTokenRepository creates a mock that asserts its expectations on cleanup.
func NewMockResetTokenRepository(t cleanupT) *MockResetTokenRepository {
	m := &MockResetTokenRepository{}
	register(&m.Mock, t)
	return m
}

func (m *MockResetTokenRepository) Create(ctx context.Context, reset *auth.ResetToken) error {
	return m.Called(ctx, reset).Error(0)
}

func (m *MockResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.ResetToken, error) {
	args := m.Called(ctx, tokenHash)
	reset, _ := args.Get(0).(*auth.ResetToken)
	return reset, args.Error(1)
}

func (m *MockResetTokenRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockResetTokenRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	args := m.Called(ctx, accountID)
	n, _ := args.Get(0).(int64)
	return n, args.Error(1)
}

// MockPasswordHasher mocks auth.PasswordHasher.
type MockPasswordHasher struct {
	mock.Mock
}

// NewMockPasswordHasher creates a mock that asserts its expectations on cleanup.
func NewMockPasswordHasher(t cleanupT) *MockPasswordHasher {
	m := &MockPasswordHasher{}
	register(&m.Mock, t)
	return m
}

func (m *MockPasswordHasher) Hash(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordHasher) Verify(password, hash string) bool {
	return m.Called(password, hash).Bool(0)
}

func (m *MockPasswordHasher) NeedsRehash(hash string) bool {
	return m.Called(hash).Bool(0)
}

// MockSessionSigner mocks auth.SessionSigner.
type MockSessionSigner struct {
	mock.Mock
}

// NewMockSessionSigner creates a mock that asserts its expectations on cleanup.
func NewMockSessionSigner(t cleanupT) *MockSessionSigner {
	m := &MockSessionSigner{}
	register(&m.Mock, t)
	return m
}

func (m *MockSessionSigner) Issue(identity auth.Identity) (string, error) {
	args := m.Called(identity)
	return args.String(0), args.Error(1)
}

func (m *MockSessionSigner) Verify(token string) (auth.Identity, error) {
	args := m.Called(token)
	identity, _ := args.Get(0).(auth.Identity)
	return identity, args.Error(1)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t cleanupT) *MockNotifier {
	m := &MockNotifier{}
	register(&m.Mock, t)
	return m
}

func (m *MockNotifier) Send(ctx context.Context, to, subject, body string) error {
	return m.Called(ctx, to, subject, body).Error(0)
}

// Store is an auth.Store over mock repositories. WithinTx runs fn against the
// same repositories and records how many transactions were opened.
type Store struct {
	AccountRepo *MockAccountRepository
	ResetRepo   *MockResetTokenRepository
	TxErr       error
	Txs         int
}

// NewStore creates a Store with fresh repository mocks.
func NewStore(t cleanupT) *Store {
	return &Store{
		AccountRepo: NewMockAccountRepository(t),
		ResetRepo:   NewMockResetTokenRepository(t),
	}
}

func (s *Store) Accounts() auth.AccountRepository       { return s.AccountRepo }
func (s *Store) ResetTokens() auth.ResetTokenRepository { return s.ResetRepo }

func (s *Store) WithinTx(_ context.Context, fn func(tx auth.Repositories) error) error {
	s.Txs++
	if s.TxErr != nil {
		return s.TxErr
	}
	return fn(s)
}

// Compile-time interface checks.
var (
	_ auth.AccountRepository    = (*MockAccountRepository)(nil)
	_ auth.ResetTokenRepository = (*MockResetTokenRepository)(nil)
	_ auth.PasswordHasher       = (*MockPasswordHasher)(nil)
	_ auth.SessionSigner        = (*MockSessionSigner)(nil)
	_ auth.Notifier             = (*MockNotifier)(nil)
	_ auth.Store                = (*Store)(nil)
)
