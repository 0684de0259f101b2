// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import "context"

// Repositories vends the repositories bound to one connection or transaction.
type Repositories interface {
	Accounts() AccountRepository
	ResetTokens() ResetTokenRepository
}

// Store is the persistence boundary of the Service.
type Store interface {
	Repositories

	// WithinTx runs fn against repositories that share one transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Repositories) error) error
}
