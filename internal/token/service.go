// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package token

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/socialhub/identity/pkg/errutil"
)

// DefaultRetention is how long expired tokens are kept before a purge may
// remove them.
const DefaultRetention = 7 * 24 * time.Hour

// Policy holds the lifetime of each token purpose. Retention is how long
// a token outlives its expiry so that late redemptions still report
// TOKEN_EXPIRED or TOKEN_ALREADY_CONSUMED; zero selects DefaultRetention.
type Policy struct {
	ConfirmationTTL time.Duration
	ResetTTL        time.Duration
	EmailChangeTTL  time.Duration
	Retention       time.Duration
}

// DefaultPolicy keeps confirmation links valid for three days and reset and
// email change links for one hour.
func DefaultPolicy() Policy {
	return Policy{
		ConfirmationTTL: 72 * time.Hour,
		ResetTTL:        time.Hour,
		EmailChangeTTL:  time.Hour,
		Retention:       DefaultRetention,
	}
}

// TTL returns the lifetime for purpose.
func (p Policy) TTL(purpose Purpose) time.Duration {
	switch purpose {
	case PurposeEmailConfirmation:
		return p.ConfirmationTTL
	case PurposePasswordReset:
		return p.ResetTTL
	case PurposeEmailChange:
		return p.EmailChangeTTL
	}
	return 0
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock used for issuance and expiry checks.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// Service is the sole arbiter of whether a token is still usable.
type Service struct {
	repo   Repository
	policy Policy
	logger *slog.Logger
	clock  func() time.Time
}

// NewService creates a Service that discards its logs.
func NewService(repo Repository, policy Policy, opts ...Option) (*Service, error) {
	return NewServiceWithLogger(repo, policy, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

// NewServiceWithLogger creates a Service that logs to logger.
func NewServiceWithLogger(repo Repository, policy Policy, logger *slog.Logger, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("token repository is required")
	}
	if logger == nil {
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("logger is required")
	}
	for _, p := range []Purpose{PurposeEmailConfirmation, PurposePasswordReset, PurposeEmailChange} {
		if policy.TTL(p) <= 0 {
			return nil, oops.Code("TOKEN_SERVICE_INVALID").
				With("purpose", p.String()).
				Errorf("token lifetime must be positive")
		}
	}
	switch {
	case policy.Retention < 0:
		return nil, oops.Code("TOKEN_SERVICE_INVALID").Errorf("token retention must not be negative")
	case policy.Retention == 0:
		policy.Retention = DefaultRetention
	}
	s := &Service{repo: repo, policy: policy, logger: logger, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime of tokens issued for purpose.
func (s *Service) TTL(purpose Purpose) time.Duration {
	return s.policy.TTL(purpose)
}

// Issue mints a token for accountID and returns its plaintext value.
func (s *Service) Issue(ctx context.Context, accountID ulid.ULID, purpose Purpose) (string, error) {
	if !purpose.Valid() {
		return "", oops.Code("TOKEN_PURPOSE_UNKNOWN").
			With("purpose", purpose.String()).
			Errorf("unknown token purpose")
	}

	value, hash, err := Generate()
	if err != nil {
		return "", err
	}

	now := s.clock().UTC()
	t := &Token{
		ID:        ulid.Make(),
		AccountID: accountID,
		Purpose:   purpose,
		Hash:      hash,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.policy.TTL(purpose)),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", errutil.Dependency(err, "create token")
	}

	s.logger.DebugContext(ctx, "token issued",
		"account_id", accountID.String(),
		"purpose", purpose.String(),
		"expires_at", t.ExpiresAt)
	return value, nil
}

// Validate resolves value to its token without consuming it. Unknown values
// and purpose mismatches are TOKEN_INVALID, used tokens
// TOKEN_ALREADY_CONSUMED and tokens past their expiry TOKEN_EXPIRED.
func (s *Service) Validate(ctx context.Context, value string, purpose Purpose) (*Token, error) {
	hash := Hash(value)
	t, err := s.repo.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code(CodeTokenInvalid).Errorf("token is invalid")
		}
		return nil, errutil.Dependency(err, "get token by hash")
	}
	if subtle.ConstantTimeCompare([]byte(t.Hash), []byte(hash)) != 1 {
		return nil, oops.Code(CodeTokenInvalid).Errorf("token is invalid")
	}
	if t.Purpose != purpose {
		return nil, oops.Code(CodeTokenInvalid).
			With("purpose", purpose.String()).
			Errorf("token is invalid")
	}
	if t.IsConsumed() {
		return nil, oops.Code(CodeTokenAlreadyConsumed).
			With("token_id", t.ID.String()).
			Errorf("token has already been used")
	}
	if t.IsExpired(s.clock()) {
		return nil, oops.Code(CodeTokenExpired).
			With("token_id", t.ID.String()).
			With("expired_at", t.ExpiresAt).
			Errorf("token has expired")
	}
	return t, nil
}

// Consume marks the token consumed. Only one caller ever succeeds.
func (s *Service) Consume(ctx context.Context, value string) error {
	t, err := s.repo.GetByHash(ctx, Hash(value))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeTokenInvalid).Errorf("token is invalid")
		}
		return errutil.Dependency(err, "get token by hash")
	}
	_, err = s.markConsumed(ctx, t)
	return err
}

// Redeem validates value for purpose and consumes it atomically. When
// called inside a transaction the consumption rolls back with it.
func (s *Service) Redeem(ctx context.Context, value string, purpose Purpose) (*Token, error) {
	t, err := s.Validate(ctx, value, purpose)
	if err != nil {
		return nil, err
	}
	return s.markConsumed(ctx, t)
}

func (s *Service) markConsumed(ctx context.Context, t *Token) (*Token, error) {
	now := s.clock().UTC()
	if err := s.repo.MarkConsumed(ctx, t.ID, now); err != nil {
		switch {
		case errors.Is(err, ErrAlreadyConsumed):
			return nil, oops.Code(CodeTokenAlreadyConsumed).
				With("token_id", t.ID.String()).
				Errorf("token has already been used")
		case errors.Is(err, ErrNotFound):
			return nil, oops.Code(CodeTokenInvalid).Errorf("token is invalid")
		}
		return nil, errutil.Dependency(err, "mark token consumed")
	}
	t.ConsumedAt = &now

	s.logger.DebugContext(ctx, "token consumed",
		"account_id", t.AccountID.String(),
		"purpose", t.Purpose.String())
	return t, nil
}

// Revoke deletes every outstanding token of purpose for accountID.
func (s *Service) Revoke(ctx context.Context, accountID ulid.ULID, purpose Purpose) (int64, error) {
	n, err := s.repo.DeleteByAccount(ctx, accountID, purpose)
	if err != nil {
		return 0, errutil.Dependency(err, "delete tokens by account")
	}
	return n, nil
}

// PurgeExpired deletes tokens that expired more than the retention window
// ago. Younger tokens stay so Validate can still classify them.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.clock().UTC().Add(-s.policy.Retention))
	if err != nil {
		return 0, errutil.Dependency(err, "delete expired tokens")
	}
	return n, nil
}
