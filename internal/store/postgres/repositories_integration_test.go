// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/store/postgres"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

func newAccount(email string) *account.Account {
	a, err := account.NewAccount(account.Draft{Email: email, DisplayName: "Alice", PasswordHash: "hash"})
	Expect(err).NotTo(HaveOccurred())
	return a
}

var _ = Describe("AccountRepository", func() {
	var (
		ctx   context.Context
		repo  *postgres.AccountRepository
		alice *account.Account
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewAccountRepository(pool)
		alice = newAccount("Alice@Example.com")
		Expect(repo.Create(ctx, alice)).To(Succeed())
	})

	It("finds accounts by email regardless of case", func() {
		got, err := repo.GetByEmail(ctx, "ALICE@example.COM")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(alice.ID))
		Expect(got.Email).To(Equal("alice@example.com"))
		Expect(got.Version).To(Equal(int64(1)))
	})

	It("rejects a second account with the same email", func() {
		err := repo.Create(ctx, newAccount("alice@EXAMPLE.com"))
		Expect(errutil.HasCode(err, account.CodeEmailTaken)).To(BeTrue())
	})

	It("bumps the version on update and persists pointer fields", func() {
		seen := time.Now().UTC().Truncate(time.Microsecond)
		updated, err := repo.Update(ctx, alice.ID, func(a *account.Account) error {
			a.EmailConfirmed = true
			a.MarkOnline(seen)
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Version).To(Equal(int64(2)))

		got, err := repo.GetByID(ctx, alice.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.EmailConfirmed).To(BeTrue())
		Expect(got.IsOnline).To(BeTrue())
		Expect(got.LastActive).NotTo(BeNil())
		Expect(got.LastActive.Equal(seen)).To(BeTrue())
	})

	It("detects a concurrent writer", func() {
		_, err := repo.Update(ctx, alice.ID, func(a *account.Account) error {
			_, err := postgres.NewAccountRepository(pool).Update(ctx, alice.ID, func(b *account.Account) error {
				b.DisplayName = "Sneaky"
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
			a.DisplayName = "Late"
			return nil
		})
		Expect(errutil.HasCode(err, account.CodeConflict)).To(BeTrue())
	})

	It("refuses to swap onto a taken email", func() {
		bob := newAccount("bob@example.com")
		Expect(repo.Create(ctx, bob)).To(Succeed())

		_, err := repo.Update(ctx, bob.ID, func(a *account.Account) error {
			a.Email = "ALICE@example.com"
			return nil
		})
		Expect(errutil.HasCode(err, account.CodeEmailTaken)).To(BeTrue())
	})

	It("reports missing accounts", func() {
		_, err := repo.GetByID(ctx, ulid.Make())
		Expect(account.IsNotFound(err)).To(BeTrue())
	})
})

var _ = Describe("TokenRepository", func() {
	var (
		ctx    context.Context
		tokens *postgres.TokenRepository
		owner  *account.Account
		now    time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		tokens = postgres.NewTokenRepository(pool)
		owner = newAccount("owner@example.com")
		Expect(postgres.NewAccountRepository(pool).Create(ctx, owner)).To(Succeed())
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	issue := func(purpose token.Purpose, hash string, ttl time.Duration) *token.Token {
		t := &token.Token{
			ID:        ulid.Make(),
			AccountID: owner.ID,
			Purpose:   purpose,
			Hash:      hash,
			IssuedAt:  now,
			ExpiresAt: now.Add(ttl),
		}
		Expect(tokens.Create(ctx, t)).To(Succeed())
		return t
	}

	It("consumes a token exactly once", func() {
		t := issue(token.PurposePasswordReset, "h1", time.Hour)

		Expect(tokens.MarkConsumed(ctx, t.ID, now)).To(Succeed())
		err := tokens.MarkConsumed(ctx, t.ID, now)
		Expect(errors.Is(err, token.ErrAlreadyConsumed)).To(BeTrue())

		got, err := tokens.GetByHash(ctx, "h1")
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ConsumedAt).NotTo(BeNil())
	})

	It("deletes only unconsumed tokens of the purpose", func() {
		used := issue(token.PurposeEmailConfirmation, "used", time.Hour)
		Expect(tokens.MarkConsumed(ctx, used.ID, now)).To(Succeed())
		issue(token.PurposeEmailConfirmation, "fresh", time.Hour)
		issue(token.PurposePasswordReset, "other", time.Hour)

		n, err := tokens.DeleteByAccount(ctx, owner.ID, token.PurposeEmailConfirmation)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		_, err = tokens.GetByHash(ctx, "used")
		Expect(err).NotTo(HaveOccurred())
		_, err = tokens.GetByHash(ctx, "other")
		Expect(err).NotTo(HaveOccurred())
	})

	It("purges expired tokens", func() {
		issue(token.PurposeEmailChange, "old", -time.Minute)
		issue(token.PurposeEmailChange, "new", time.Hour)

		n, err := tokens.DeleteExpired(ctx, now)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
		_, err = tokens.GetByHash(ctx, "old")
		Expect(errors.Is(err, token.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("Transactor", func() {
	It("rolls back every write when fn fails", func() {
		ctx := context.Background()
		accounts := postgres.NewAccountRepository(pool)
		sessions := postgres.NewSessionRepository(pool)
		a := newAccount("tx@example.com")
		boom := errors.New("boom")

		err := postgres.NewTransactor(pool).InTransaction(ctx, func(ctx context.Context) error {
			Expect(accounts.Create(ctx, a)).To(Succeed())
			now := time.Now().UTC()
			Expect(sessions.Create(ctx, &auth.Session{
				ID: ulid.Make(), AccountID: a.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastSeenAt: now,
			})).To(Succeed())
			return boom
		})

		Expect(errors.Is(err, boom)).To(BeTrue())
		_, err = accounts.GetByID(ctx, a.ID)
		Expect(account.IsNotFound(err)).To(BeTrue())
	})
})
