// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/command"
	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/pkg/errutil"
)

func newMemoryAccounts() account.Repository {
	return memory.NewAccountRepository()
}

// conflictingRepo fails the next conflicts updates with CONFLICT.
type conflictingRepo struct {
	account.Repository
	conflicts atomic.Int32
	updates   atomic.Int32
}

func (r *conflictingRepo) Update(ctx context.Context, id ulid.ULID, mutate account.Mutation) (*account.Account, error) {
	r.updates.Add(1)
	if r.conflicts.Add(-1) >= 0 {
		return nil, account.ConflictError(id, 0)
	}
	return r.Repository.Update(ctx, id, mutate)
}

type failingCreateRepo struct {
	account.Repository
}

func (r *failingCreateRepo) Create(context.Context, *account.Account) error {
	return errors.New("connection reset by peer")
}

type failingLookupRepo struct {
	account.Repository
}

func (r *failingLookupRepo) GetByEmail(context.Context, string) (*account.Account, error) {
	return nil, errors.New("connection refused")
}

func TestConfirmEmail_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	repo := &conflictingRepo{Repository: newMemoryAccounts()}
	f := newFixture(t, fixtureConfig{accounts: repo})
	res, tok := f.register(t, "a@x.com", "P@ss1")

	repo.conflicts.Store(2)
	require.NoError(t, f.h.ConfirmEmail(ctx, res.AccountID.String(), tok))
	assert.True(t, f.account(t, res.AccountID).EmailConfirmed)
}

func TestConfirmEmail_GivesUpAfterRetries(t *testing.T) {
	ctx := context.Background()
	repo := &conflictingRepo{Repository: newMemoryAccounts()}
	f := newFixture(t, fixtureConfig{accounts: repo})
	res, tok := f.register(t, "a@x.com", "P@ss1")

	repo.conflicts.Store(100)
	repo.updates.Store(0)
	err := f.h.ConfirmEmail(ctx, res.AccountID.String(), tok)
	errutil.AssertErrorCode(t, err, account.CodeConflict)
	assert.Equal(t, int32(command.DefaultConflictRetries+1), repo.updates.Load())

	// Every attempt rolled back, so the token is still usable.
	repo.conflicts.Store(0)
	require.NoError(t, f.h.ConfirmEmail(ctx, res.AccountID.String(), tok))
}

func TestForgotPassword_DependencyFailure(t *testing.T) {
	repo := &failingLookupRepo{Repository: newMemoryAccounts()}
	f := newFixture(t, fixtureConfig{accounts: repo})

	_, err := f.h.ForgotPassword(context.Background(), command.ForgotPasswordRequest{Email: "a@x.com"})

	errutil.AssertErrorCode(t, err, errutil.CodeDependencyFailure)
	assert.True(t, errutil.IsRetryable(err))
	assert.Contains(t, f.logs.String(), "command failed")
}

func TestCanceledContextIsDependencyFailure(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.h.ResendConfirmEmail(ctx, "a@x.com")
	errutil.AssertErrorCode(t, err, errutil.CodeDependencyFailure)
}

func TestMetricsRecordOutcome(t *testing.T) {
	f := newFixture(t)
	failures := command.CommandExecutions.WithLabelValues("get_user_status", "validation_failed")
	before := testutil.ToFloat64(failures)

	_, err := f.h.GetUserStatus(context.Background(), "bogus")
	require.Error(t, err)

	assert.Equal(t, before+1, testutil.ToFloat64(failures))
}
