// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package command implements the account lifecycle operations: registration,
// email confirmation, login, logout, password reset and email change.
//
// Every handler commits its account and token changes before it asks the
// Notifier to send mail. A notification failure is reported through the
// result's Delivery and never undoes the committed state.
package command

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/store"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

var tracer = otel.Tracer("identity/command")

// Default conflict retry settings.
const (
	DefaultConflictRetries   = 3
	DefaultConflictBaseDelay = 10 * time.Millisecond
)

// Notifier sends account emails. *notify.Gateway implements it.
type Notifier interface {
	ConfirmEmail(ctx context.Context, to notify.Recipient, accountID, token string, ttl time.Duration) notify.Delivery
	PasswordReset(ctx context.Context, to notify.Recipient, returnURL, token string, ttl time.Duration) notify.Delivery
	EmailChange(ctx context.Context, to notify.Recipient, token string, ttl time.Duration) notify.Delivery
	EmailChanged(ctx context.Context, previous notify.Recipient, newEmail string) notify.Delivery
}

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Accounts account.Repository
	Hasher   account.PasswordHasher
	Tokens   *token.Service
	Auth     *auth.Service
	Tx       store.Transactor
	Notifier Notifier
	// Avatars is optional; without it registrations carrying an avatar are
	// rejected.
	Avatars avatar.Store
	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithAutoLogin makes Register open a session for the new account.
func WithAutoLogin(enabled bool) Option {
	return func(h *Handlers) { h.autoLogin = enabled }
}

// WithAvatarMaxBytes sets the avatar size limit.
func WithAvatarMaxBytes(n int) Option {
	return func(h *Handlers) {
		if n > 0 {
			h.avatarMaxBytes = n
		}
	}
}

// WithConflictRetries sets how often a transition that lost an optimistic
// concurrency race is retried, and the initial backoff.
func WithConflictRetries(retries uint64, base time.Duration) Option {
	return func(h *Handlers) {
		h.conflictRetries = retries
		if base > 0 {
			h.conflictBase = base
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(h *Handlers) { h.clock = clock }
}

// Handlers executes account commands.
type Handlers struct {
	accounts account.Repository
	hasher   account.PasswordHasher
	tokens   *token.Service
	auth     *auth.Service
	tx       store.Transactor
	notifier Notifier
	avatars  avatar.Store
	logger   *slog.Logger
	clock    func() time.Time

	autoLogin       bool
	avatarMaxBytes  int
	conflictRetries uint64
	conflictBase    time.Duration
}

// NewHandlers creates Handlers.
func NewHandlers(deps Deps, opts ...Option) (*Handlers, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("COMMAND_INVALID").Errorf("accounts repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("COMMAND_INVALID").Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code("COMMAND_INVALID").Errorf("token service is required")
	case deps.Auth == nil:
		return nil, oops.Code("COMMAND_INVALID").Errorf("auth service is required")
	case deps.Tx == nil:
		return nil, oops.Code("COMMAND_INVALID").Errorf("transactor is required")
	case deps.Notifier == nil:
		return nil, oops.Code("COMMAND_INVALID").Errorf("notifier is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	h := &Handlers{
		accounts:        deps.Accounts,
		hasher:          deps.Hasher,
		tokens:          deps.Tokens,
		auth:            deps.Auth,
		tx:              deps.Tx,
		notifier:        deps.Notifier,
		avatars:         deps.Avatars,
		logger:          logger,
		clock:           time.Now,
		avatarMaxBytes:  avatar.DefaultMaxBytes,
		conflictRetries: DefaultConflictRetries,
		conflictBase:    DefaultConflictBaseDelay,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// run wraps a handler body with tracing, metrics and failure logging.
func (h *Handlers) run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracer.Start(ctx, "command."+name)
	rec := newMetricsRecorder(name)
	defer func() {
		rec.record(err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusOf(err))
			if errutil.IsRetryable(err) || errutil.Code(err) == "" {
				errutil.LogError(ctx, h.logger, "command failed", err, "command", name)
			}
		}
		span.End()
	}()
	return fn(ctx)
}

// retryConflicts reruns fn while it fails with CONFLICT.
func (h *Handlers) retryConflicts(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(h.conflictRetries, retry.NewExponential(h.conflictBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errutil.HasCode(err, account.CodeConflict) {
			h.logger.DebugContext(ctx, "retrying conflicted transition")
			return retry.RetryableError(err)
		}
		return err
	})
	// A cancelled wait between attempts surfaces as a bare context error.
	return errutil.Dependency(err, "apply transition")
}

// atomically runs fn in a transaction, retrying it on CONFLICT. A failed
// attempt leaves no token consumed.
func (h *Handlers) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return h.retryConflicts(ctx, func(ctx context.Context) error {
		return h.tx.InTransaction(ctx, fn)
	})
}

func recipient(a *account.Account) notify.Recipient {
	return notify.Recipient{Email: a.Email, DisplayName: a.DisplayName}
}
