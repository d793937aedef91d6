// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/pkg/errutil"
)

func newAccount(t *testing.T, email string) *account.Account {
	t.Helper()
	acc, err := account.NewAccount(account.Draft{Email: email, DisplayName: "Test", PasswordHash: "hash"})
	require.NoError(t, err)
	return acc
}

func TestAccountRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()
	acc := newAccount(t, "a@x.com")

	require.NoError(t, repo.Create(ctx, acc))

	byID, err := repo.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", byID.Email)

	byEmail, err := repo.GetByEmail(ctx, "A@X.COM")
	require.NoError(t, err)
	assert.Equal(t, acc.ID, byEmail.ID)

	_, err = repo.GetByID(ctx, ulid.Make())
	errutil.AssertErrorCode(t, err, account.CodeAccountNotFound)
	assert.True(t, account.IsNotFound(err))

	_, err = repo.GetByEmail(ctx, "b@x.com")
	assert.True(t, account.IsNotFound(err))
}

func TestAccountRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()
	acc := newAccount(t, "a@x.com")
	require.NoError(t, repo.Create(ctx, acc))

	got, err := repo.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	got.EmailConfirmed = true

	again, err := repo.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, again.EmailConfirmed)
}

func TestAccountRepository_CreateRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()
	require.NoError(t, repo.Create(ctx, newAccount(t, "a@x.com")))

	dup := newAccount(t, "a@x.com")
	dup.Email = "A@x.com"
	err := repo.Create(ctx, dup)
	errutil.AssertErrorCode(t, err, account.CodeEmailTaken)
}

func TestAccountRepository_ConcurrentCreateSameEmail(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewAccountRepository()

	const workers = 32
	var wg sync.WaitGroup
	var succeeded, taken atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc, err := account.NewAccount(account.Draft{Email: "race@x.com", DisplayName: "Racer", PasswordHash: "hash"})
			if err != nil {
				return
			}
			<-start
			switch err := repo.Create(ctx, acc); {
			case err == nil:
				succeeded.Add(1)
			case errutil.HasCode(err, account.CodeEmailTaken):
				taken.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), succeeded.Load())
	assert.Equal(t, int32(workers-1), taken.Load())
	assert.Equal(t, 1, repo.Len())
}

func TestAccountRepository_Update(t *testing.T) {
	ctx := context.Background()

	t.Run("applies mutation and bumps version", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		acc := newAccount(t, "a@x.com")
		require.NoError(t, repo.Create(ctx, acc))

		updated, err := repo.Update(ctx, acc.ID, func(a *account.Account) error {
			a.EmailConfirmed = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.EmailConfirmed)
		assert.Equal(t, acc.Version+1, updated.Version)
	})

	t.Run("mutation error aborts without writing", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		acc := newAccount(t, "a@x.com")
		require.NoError(t, repo.Create(ctx, acc))

		boom := errors.New("boom")
		_, err := repo.Update(ctx, acc.ID, func(a *account.Account) error {
			a.EmailConfirmed = true
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.GetByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.False(t, got.EmailConfirmed)
		assert.Equal(t, acc.Version, got.Version)
	})

	t.Run("missing account", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		_, err := repo.Update(ctx, ulid.Make(), func(*account.Account) error { return nil })
		errutil.AssertErrorCode(t, err, account.CodeAccountNotFound)
	})

	t.Run("concurrent write is a conflict", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		acc := newAccount(t, "a@x.com")
		require.NoError(t, repo.Create(ctx, acc))

		_, err := repo.Update(ctx, acc.ID, func(a *account.Account) error {
			_, inner := repo.Update(ctx, acc.ID, func(b *account.Account) error {
				b.DisplayName = "Winner"
				return nil
			})
			require.NoError(t, inner)
			a.DisplayName = "Loser"
			return nil
		})
		errutil.AssertErrorCode(t, err, account.CodeConflict)

		got, err := repo.GetByID(ctx, acc.ID)
		require.NoError(t, err)
		assert.Equal(t, "Winner", got.DisplayName)
	})

	t.Run("email change keeps uniqueness", func(t *testing.T) {
		repo := memory.NewAccountRepository()
		a := newAccount(t, "a@x.com")
		b := newAccount(t, "b@x.com")
		require.NoError(t, repo.Create(ctx, a))
		require.NoError(t, repo.Create(ctx, b))

		_, err := repo.Update(ctx, a.ID, func(acc *account.Account) error {
			acc.Email = "B@x.com"
			return nil
		})
		errutil.AssertErrorCode(t, err, account.CodeEmailTaken)

		_, err = repo.Update(ctx, a.ID, func(acc *account.Account) error {
			acc.Email = "c@x.com"
			return nil
		})
		require.NoError(t, err)

		_, err = repo.GetByEmail(ctx, "a@x.com")
		assert.True(t, account.IsNotFound(err))
		got, err := repo.GetByEmail(ctx, "c@x.com")
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
	})
}

func TestAccountRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := memory.NewAccountRepository()

	assert.ErrorIs(t, repo.Create(ctx, newAccount(t, "a@x.com")), context.Canceled)
	_, err := repo.GetByEmail(ctx, "a@x.com")
	assert.ErrorIs(t, err, context.Canceled)
}
