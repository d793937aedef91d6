// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package token_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T) (*token.Service, *memory.TokenRepository, *fakeClock) {
	t.Helper()
	repo := memory.NewTokenRepository()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := token.NewService(repo, token.DefaultPolicy(), token.WithClock(clock.Now))
	require.NoError(t, err)
	return svc, repo, clock
}

func TestNewService_Validation(t *testing.T) {
	_, err := token.NewService(nil, token.DefaultPolicy())
	assert.ErrorContains(t, err, "token repository is required")

	_, err = token.NewServiceWithLogger(memory.NewTokenRepository(), token.DefaultPolicy(), nil)
	assert.ErrorContains(t, err, "logger")

	policy := token.DefaultPolicy()
	policy.ResetTTL = 0
	_, err = token.NewService(memory.NewTokenRepository(), policy)
	errutil.AssertErrorCode(t, err, "TOKEN_SERVICE_INVALID")

	policy = token.DefaultPolicy()
	policy.Retention = -time.Hour
	_, err = token.NewService(memory.NewTokenRepository(), policy)
	errutil.AssertErrorCode(t, err, "TOKEN_SERVICE_INVALID")
}

func TestService_IssueAndValidate(t *testing.T) {
	ctx := context.Background()
	svc, repo, clock := newService(t)
	owner := ulid.Make()

	value, err := svc.Issue(ctx, owner, token.PurposeEmailConfirmation)
	require.NoError(t, err)
	require.NoError(t, token.ValidateFormat(value))

	stored, err := repo.GetByHash(ctx, token.Hash(value))
	require.NoError(t, err)
	assert.NotEqual(t, value, stored.Hash)
	assert.Equal(t, clock.Now().Add(72*time.Hour), stored.ExpiresAt)

	got, err := svc.Validate(ctx, value, token.PurposeEmailConfirmation)
	require.NoError(t, err)
	assert.Equal(t, owner, got.AccountID)
	assert.False(t, got.IsConsumed())
}

func TestService_IssueRejectsUnknownPurpose(t *testing.T) {
	svc, _, _ := newService(t)
	_, err := svc.Issue(context.Background(), ulid.Make(), token.Purpose("bogus"))
	errutil.AssertErrorCode(t, err, "TOKEN_PURPOSE_UNKNOWN")
}

func TestService_ValidateFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown value", func(t *testing.T) {
		svc, _, _ := newService(t)
		unknown, _, err := token.Generate()
		require.NoError(t, err)
		_, err = svc.Validate(ctx, unknown, token.PurposePasswordReset)
		errutil.AssertErrorCode(t, err, token.CodeTokenInvalid)
	})

	t.Run("purpose mismatch", func(t *testing.T) {
		svc, _, _ := newService(t)
		value, err := svc.Issue(ctx, ulid.Make(), token.PurposeEmailConfirmation)
		require.NoError(t, err)
		_, err = svc.Validate(ctx, value, token.PurposePasswordReset)
		errutil.AssertErrorCode(t, err, token.CodeTokenInvalid)
	})

	t.Run("expired at validation time", func(t *testing.T) {
		svc, _, clock := newService(t)
		value, err := svc.Issue(ctx, ulid.Make(), token.PurposePasswordReset)
		require.NoError(t, err)

		clock.Advance(time.Hour)
		_, err = svc.Validate(ctx, value, token.PurposePasswordReset)
		require.NoError(t, err, "token is valid up to and including its expiry instant")

		clock.Advance(time.Second)
		_, err = svc.Validate(ctx, value, token.PurposePasswordReset)
		errutil.AssertErrorCode(t, err, token.CodeTokenExpired)
	})

	t.Run("consumed beats expired", func(t *testing.T) {
		svc, _, clock := newService(t)
		value, err := svc.Issue(ctx, ulid.Make(), token.PurposePasswordReset)
		require.NoError(t, err)
		_, err = svc.Redeem(ctx, value, token.PurposePasswordReset)
		require.NoError(t, err)

		clock.Advance(2 * time.Hour)
		_, err = svc.Validate(ctx, value, token.PurposePasswordReset)
		errutil.AssertErrorCode(t, err, token.CodeTokenAlreadyConsumed)
	})
}

func TestService_RedeemIsSingleUse(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	value, err := svc.Issue(ctx, ulid.Make(), token.PurposePasswordReset)
	require.NoError(t, err)

	tok, err := svc.Redeem(ctx, value, token.PurposePasswordReset)
	require.NoError(t, err)
	assert.True(t, tok.IsConsumed())

	_, err = svc.Redeem(ctx, value, token.PurposePasswordReset)
	errutil.AssertErrorCode(t, err, token.CodeTokenAlreadyConsumed)

	err = svc.Consume(ctx, value)
	errutil.AssertErrorCode(t, err, token.CodeTokenAlreadyConsumed)
}

func TestService_ConcurrentRedeem(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	value, err := svc.Issue(ctx, ulid.Make(), token.PurposePasswordReset)
	require.NoError(t, err)

	const workers = 24
	var wg sync.WaitGroup
	var won, consumed atomic.Int32
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Redeem(ctx, value, token.PurposePasswordReset)
			switch {
			case err == nil:
				won.Add(1)
			case errutil.HasCode(err, token.CodeTokenAlreadyConsumed):
				consumed.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(workers-1), consumed.Load())
}

func TestService_ConsumeUnknown(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.Consume(context.Background(), "deadbeef")
	errutil.AssertErrorCode(t, err, token.CodeTokenInvalid)
}

func TestService_RevokeAndPurge(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newService(t)
	owner := ulid.Make()

	reset, err := svc.Issue(ctx, owner, token.PurposePasswordReset)
	require.NoError(t, err)
	confirm, err := svc.Issue(ctx, owner, token.PurposeEmailConfirmation)
	require.NoError(t, err)

	n, err := svc.Revoke(ctx, owner, token.PurposePasswordReset)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = svc.Validate(ctx, reset, token.PurposePasswordReset)
	errutil.AssertErrorCode(t, err, token.CodeTokenInvalid)

	clock.Advance(73*time.Hour + token.DefaultRetention)
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = svc.Validate(ctx, confirm, token.PurposeEmailConfirmation)
	errutil.AssertErrorCode(t, err, token.CodeTokenInvalid)
}

func TestService_PurgeKeepsRecentlyExpiredTokens(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newService(t)
	owner := ulid.Make()

	expired, err := svc.Issue(ctx, owner, token.PurposePasswordReset)
	require.NoError(t, err)
	used, err := svc.Issue(ctx, owner, token.PurposePasswordReset)
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, used, token.PurposePasswordReset)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = svc.Validate(ctx, expired, token.PurposePasswordReset)
	errutil.AssertErrorCode(t, err, token.CodeTokenExpired)
	_, err = svc.Redeem(ctx, used, token.PurposePasswordReset)
	errutil.AssertErrorCode(t, err, token.CodeTokenAlreadyConsumed)

	clock.Advance(token.DefaultRetention)
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

type failingRepo struct {
	token.Repository
}

func (failingRepo) Create(context.Context, *token.Token) error {
	return errors.New("connection reset")
}

func (failingRepo) GetByHash(context.Context, string) (*token.Token, error) {
	return nil, errors.New("connection reset")
}

func TestService_DependencyFailures(t *testing.T) {
	ctx := context.Background()
	svc, err := token.NewService(failingRepo{}, token.DefaultPolicy())
	require.NoError(t, err)

	_, err = svc.Issue(ctx, ulid.Make(), token.PurposeEmailConfirmation)
	errutil.AssertErrorCode(t, err, errutil.CodeDependencyFailure)

	_, err = svc.Validate(ctx, "x", token.PurposeEmailConfirmation)
	errutil.AssertErrorCode(t, err, errutil.CodeDependencyFailure)
}
