// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/internal/token"
)

func TestTransactor_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	tx := memory.NewTransactor()
	accounts := memory.NewAccountRepository()
	tokens := memory.NewTokenRepository()
	sessions := memory.NewSessionRepository()

	acc := newAccount(t, "a@x.com")
	require.NoError(t, accounts.Create(ctx, acc))
	tok := newToken(acc.ID, token.PurposeEmailConfirmation, time.Now().Add(time.Hour))
	require.NoError(t, tokens.Create(ctx, tok))
	sess, err := auth.NewSession(acc.ID, time.Now(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, sessions.Create(ctx, sess))

	boom := errors.New("boom")
	err = tx.InTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, tokens.MarkConsumed(ctx, tok.ID, time.Now()))
		_, err := accounts.Update(ctx, acc.ID, func(a *account.Account) error {
			a.EmailConfirmed = true
			return nil
		})
		require.NoError(t, err)
		_, err = sessions.DeleteByAccount(ctx, acc.ID)
		require.NoError(t, err)
		require.NoError(t, accounts.Create(ctx, newAccount(t, "b@x.com")))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	gotTok, err := tokens.GetByHash(ctx, tok.Hash)
	require.NoError(t, err)
	assert.False(t, gotTok.IsConsumed())

	gotAcc, err := accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, gotAcc.EmailConfirmed)
	assert.Equal(t, acc.Version, gotAcc.Version)

	_, err = sessions.GetByID(ctx, sess.ID)
	assert.NoError(t, err)

	_, err = accounts.GetByEmail(ctx, "b@x.com")
	assert.True(t, account.IsNotFound(err))
}

func TestTransactor_RollbackKeepsInterleavedCommit(t *testing.T) {
	ctx := context.Background()
	tx := memory.NewTransactor()
	accounts := memory.NewAccountRepository()
	acc := newAccount(t, "a@x.com")
	require.NoError(t, accounts.Create(ctx, acc))
	now := time.Now().UTC()

	boom := errors.New("boom")
	err := tx.InTransaction(ctx, func(txCtx context.Context) error {
		_, err := accounts.Update(txCtx, acc.ID, func(a *account.Account) error {
			pending := "new@x.com"
			a.PendingEmail = &pending
			return nil
		})
		require.NoError(t, err)

		_, err = accounts.Update(ctx, acc.ID, func(a *account.Account) error {
			a.MarkOnline(now)
			return nil
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := accounts.GetByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PendingEmail)
	assert.True(t, got.IsOnline)
	assert.Greater(t, got.Version, acc.Version+1)
}

func TestTransactor_RollbackRestoresEmailIndex(t *testing.T) {
	ctx := context.Background()
	tx := memory.NewTransactor()
	accounts := memory.NewAccountRepository()
	acc := newAccount(t, "a@x.com")
	require.NoError(t, accounts.Create(ctx, acc))

	boom := errors.New("boom")
	err := tx.InTransaction(ctx, func(txCtx context.Context) error {
		_, err := accounts.Update(txCtx, acc.ID, func(a *account.Account) error {
			a.Email = "b@x.com"
			return nil
		})
		require.NoError(t, err)
		_, err = accounts.Update(ctx, acc.ID, func(a *account.Account) error {
			a.DisplayName = "Renamed"
			return nil
		})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := accounts.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)
	_, err = accounts.GetByEmail(ctx, "b@x.com")
	assert.True(t, account.IsNotFound(err))
}

func TestTransactor_CommitsOnSuccess(t *testing.T) {
	ctx := context.Background()
	tx := memory.NewTransactor()
	tokens := memory.NewTokenRepository()
	tok := newToken(ulid.Make(), token.PurposePasswordReset, time.Now().Add(time.Hour))
	require.NoError(t, tokens.Create(ctx, tok))

	err := tx.InTransaction(ctx, func(ctx context.Context) error {
		return tx.InTransaction(ctx, func(ctx context.Context) error {
			return tokens.MarkConsumed(ctx, tok.ID, time.Now())
		})
	})
	require.NoError(t, err)

	got, err := tokens.GetByHash(ctx, tok.Hash)
	require.NoError(t, err)
	assert.True(t, got.IsConsumed())
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSessionRepository()
	owner := ulid.Make()
	now := time.Now()

	live, err := auth.NewSession(owner, now, time.Hour)
	require.NoError(t, err)
	old, err := auth.NewSession(ulid.Make(), now.Add(-2*time.Hour), time.Hour)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, old))

	seen := now.Add(time.Minute)
	require.NoError(t, repo.UpdateLastSeen(ctx, live.ID, seen))
	got, err := repo.GetByID(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, seen, got.LastSeenAt)

	n, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteByAccount(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByID(ctx, live.ID)
	assert.ErrorIs(t, err, auth.ErrNotFound)
	assert.ErrorIs(t, repo.UpdateLastSeen(ctx, live.ID, now), auth.ErrNotFound)
}
