// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/internal/token"
)

func newToken(accountID ulid.ULID, purpose token.Purpose, expiresAt time.Time) *token.Token {
	_, hash, _ := token.Generate()
	return &token.Token{
		ID:        ulid.Make(),
		AccountID: accountID,
		Purpose:   purpose,
		Hash:      hash,
		IssuedAt:  time.Now(),
		ExpiresAt: expiresAt,
	}
}

func TestTokenRepository_MarkConsumedOnce(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTokenRepository()
	tok := newToken(ulid.Make(), token.PurposePasswordReset, time.Now().Add(time.Hour))
	require.NoError(t, repo.Create(ctx, tok))

	const workers = 32
	var wg sync.WaitGroup
	var won, lost atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := repo.MarkConsumed(ctx, tok.ID, time.Now()); err {
			case nil:
				won.Add(1)
			case token.ErrAlreadyConsumed:
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(workers-1), lost.Load())

	got, err := repo.GetByHash(ctx, tok.Hash)
	require.NoError(t, err)
	assert.True(t, got.IsConsumed())
}

func TestTokenRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTokenRepository()

	_, err := repo.GetByHash(ctx, "missing")
	assert.ErrorIs(t, err, token.ErrNotFound)
	assert.ErrorIs(t, repo.MarkConsumed(ctx, ulid.Make(), time.Now()), token.ErrNotFound)
}

func TestTokenRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTokenRepository()
	owner := ulid.Make()
	now := time.Now()

	reset1 := newToken(owner, token.PurposePasswordReset, now.Add(time.Hour))
	reset2 := newToken(owner, token.PurposePasswordReset, now.Add(time.Hour))
	confirm := newToken(owner, token.PurposeEmailConfirmation, now.Add(time.Hour))
	stale := newToken(ulid.Make(), token.PurposeEmailChange, now.Add(-time.Minute))
	used := newToken(owner, token.PurposePasswordReset, now.Add(time.Hour))
	for _, tok := range []*token.Token{reset1, reset2, used, confirm, stale} {
		require.NoError(t, repo.Create(ctx, tok))
	}
	require.NoError(t, repo.MarkConsumed(ctx, used.ID, now))

	n, err := repo.DeleteByAccount(ctx, owner, token.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, err = repo.GetByHash(ctx, used.Hash)
	assert.NoError(t, err, "consumed tokens are kept")

	n, err = repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repo.GetByHash(ctx, confirm.Hash)
	assert.NoError(t, err)
	_, err = repo.GetByHash(ctx, reset1.Hash)
	assert.ErrorIs(t, err, token.ErrNotFound)
}
