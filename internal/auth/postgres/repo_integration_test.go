// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

//go:build integration

package postgres_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gatekeep/gatekeep/internal/auth"
	"github.com/gatekeep/gatekeep/internal/auth/postgres"
)

var _ = Describe("Auth repositories", func() {
	var (
		st       *postgres.Store
		accounts auth.AccountRepository
		resets   auth.ResetTokenRepository
	)

	BeforeEach(func() {
		cleanup()
		st = postgres.NewStore(testPool)
		accounts = st.Accounts()
		resets = st.ResetTokens()
	})

	newAccount := func(email string) *auth.Account {
		acct, err := auth.NewAccount("Ada Lovelace", email, "$2a$10$hash", auth.HashToken(email+"-token"))
		Expect(err).NotTo(HaveOccurred())
		Expect(accounts.Create(testCtx, acct)).To(Succeed())
		return acct
	}

	Describe("accounts", func() {
		It("round-trips an unverified account", func() {
			acct := newAccount("ada@example.com")

			got, err := accounts.GetByEmail(testCtx, "ada@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(acct.ID))
			Expect(got.EmailVerified).To(BeFalse())
			Expect(got.PendingPurpose).To(Equal(auth.PurposeVerifyEmail))
			Expect(got.PendingTokenHash).To(Equal(acct.PendingTokenHash))
		})

		It("enforces unique email", func() {
			newAccount("dup@example.com")
			other, err := auth.NewAccount("Other", "dup@example.com", "$2a$10$hash", auth.HashToken("other"))
			Expect(err).NotTo(HaveOccurred())

			err = accounts.Create(testCtx, other)
			Expect(errors.Is(err, auth.ErrDuplicateEmail)).To(BeTrue())
		})

		It("treats email as case sensitive", func() {
			newAccount("case@example.com")
			_, err := accounts.GetByEmail(testCtx, "CASE@example.com")
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("consumes a pending token exactly once under contention", func() {
			acct := newAccount("race@example.com")

			const workers = 8
			var wins atomic.Int32
			var wg sync.WaitGroup
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := accounts.ConsumePendingToken(testCtx, acct.ID, acct.PendingTokenHash, auth.PurposeVerifyEmail)
					if err == nil {
						wins.Add(1)
						return
					}
					Expect(errors.Is(err, auth.ErrConflict)).To(BeTrue())
				}()
			}
			wg.Wait()
			Expect(wins.Load()).To(Equal(int32(1)))

			got, err := accounts.GetByID(testCtx, acct.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.EmailVerified).To(BeTrue())
			Expect(got.HasPending()).To(BeFalse())

			_, err = accounts.GetByPendingToken(testCtx, acct.PendingTokenHash, auth.PurposeVerifyEmail)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("only rehashes when the stored hash is unchanged", func() {
			acct := newAccount("rehash@example.com")

			Expect(accounts.RehashPassword(testCtx, acct.ID, "stale", "$2a$12$new")).
				To(MatchError(auth.ErrConflict))
			Expect(accounts.RehashPassword(testCtx, acct.ID, acct.PasswordHash, "$2a$12$new")).To(Succeed())

			got, err := accounts.GetByID(testCtx, acct.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal("$2a$12$new"))
		})
	})

	Describe("reset tokens", func() {
		It("stores optional expiry and cascades on account delete", func() {
			acct := newAccount("reset@example.com")

			forever, err := auth.NewResetToken(acct.ID, auth.HashToken("a"), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(resets.Create(testCtx, forever)).To(Succeed())

			short, err := auth.NewResetToken(acct.ID, auth.HashToken("b"), time.Hour)
			Expect(err).NotTo(HaveOccurred())
			Expect(resets.Create(testCtx, short)).To(Succeed())

			got, err := resets.GetByTokenHash(testCtx, forever.TokenHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ExpiresAt.IsZero()).To(BeTrue())

			got, err = resets.GetByTokenHash(testCtx, short.TokenHash)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ExpiresAt).To(BeTemporally("~", short.ExpiresAt, time.Millisecond))

			_, err = testPool.Exec(testCtx, `DELETE FROM accounts WHERE id = $1`, acct.ID.String())
			Expect(err).NotTo(HaveOccurred())

			_, err = resets.GetByTokenHash(testCtx, short.TokenHash)
			Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		})

		It("deletes all tokens of an account", func() {
			acct := newAccount("bulk@example.com")
			for _, raw := range []string{"x", "y", "z"} {
				tok, err := auth.NewResetToken(acct.ID, auth.HashToken(raw), 0)
				Expect(err).NotTo(HaveOccurred())
				Expect(resets.Create(testCtx, tok)).To(Succeed())
			}

			n, err := resets.DeleteByAccount(testCtx, acct.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(int64(3)))
		})
	})

	Describe("transactions", func() {
		It("rolls back every write when fn fails", func() {
			acct := newAccount("tx@example.com")
			tok, err := auth.NewResetToken(acct.ID, auth.HashToken("tx"), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(resets.Create(testCtx, tok)).To(Succeed())

			boom := errors.New("boom")
			err = st.WithinTx(testCtx, func(tx auth.Repositories) error {
				Expect(tx.Accounts().UpdatePassword(testCtx, acct.ID, "$2a$10$changed")).To(Succeed())
				Expect(tx.ResetTokens().Delete(testCtx, tok.ID)).To(Succeed())
				return boom
			})
			Expect(err).To(MatchError(boom))

			got, err := accounts.GetByID(testCtx, acct.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.PasswordHash).To(Equal(acct.PasswordHash))

			_, err = resets.GetByTokenHash(testCtx, tok.TokenHash)
			Expect(err).NotTo(HaveOccurred())
		})

		It("lets only one transaction delete a reset token", func() {
			acct := newAccount("gate@example.com")
			tok, err := auth.NewResetToken(acct.ID, auth.HashToken("gate"), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(resets.Create(testCtx, tok)).To(Succeed())

			var wins atomic.Int32
			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					err := st.WithinTx(testCtx, func(tx auth.Repositories) error {
						return tx.ResetTokens().Delete(testCtx, tok.ID)
					})
					if err == nil {
						wins.Add(1)
					}
				}()
			}
			wg.Wait()
			Expect(wins.Load()).To(Equal(int32(1)))
		})
	})
})
