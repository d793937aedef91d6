// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/store"
	"github.com/socialhub/identity/pkg/errutil"
)

// dummyPasswordHash is verified when the email is unknown so that a miss
// costs the same as a wrong password. It never matches any password.
//
//nolint:gosec // G101: intentionally fake hash, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// activityInterval throttles lastActive writes triggered by session use.
const activityInterval = time.Minute

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the wall clock.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithSessionTTL sets the session lifetime. Non-positive values are ignored.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithTransactor makes the account update and session swap of a login or
// logout commit together. Without it each write commits on its own.
func WithTransactor(tx store.Transactor) Option {
	return func(s *Service) {
		if tx != nil {
			s.tx = tx
		}
	}
}

// Service provides authentication operations.
type Service struct {
	accounts   account.Repository
	sessions   SessionRepository
	hasher     account.PasswordHasher
	signer     *GrantSigner
	logger     *slog.Logger
	clock      func() time.Time
	sessionTTL time.Duration
	tx         store.Transactor
}

// NewService creates a Service that discards its logs.
func NewService(
	accounts account.Repository,
	sessions SessionRepository,
	hasher account.PasswordHasher,
	signer *GrantSigner,
	opts ...Option,
) (*Service, error) {
	return NewServiceWithLogger(accounts, sessions, hasher, signer, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

// NewServiceWithLogger creates a Service that logs to logger.
func NewServiceWithLogger(
	accounts account.Repository,
	sessions SessionRepository,
	hasher account.PasswordHasher,
	signer *GrantSigner,
	logger *slog.Logger,
	opts ...Option,
) (*Service, error) {
	switch {
	case accounts == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("accounts repository is required")
	case sessions == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("sessions repository is required")
	case hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	case signer == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("grant signer is required")
	case logger == nil:
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	s := &Service{
		accounts:   accounts,
		sessions:   sessions,
		hasher:     hasher,
		signer:     signer,
		logger:     logger,
		clock:      time.Now,
		sessionTTL: DefaultSessionTTL,
		tx: store.TransactorFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Login verifies credentials, marks the account online and opens a new
// session, revoking any previous one.
func (s *Service) Login(ctx context.Context, email, password string) (*Grant, error) {
	email = account.NormalizeEmail(email)

	acc, lookupErr := s.accounts.GetByEmail(ctx, email)
	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = acc.PasswordHash
	case !account.IsNotFound(lookupErr):
		return nil, errutil.Dependency(lookupErr, "get account by email")
	}
	exists := lookupErr == nil

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		if !exists {
			return nil, invalidCredentials()
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", acc.ID.String()).
			Wrap(verifyErr)
	}
	if !exists {
		return nil, invalidCredentials()
	}
	if !valid {
		s.recordFailure(ctx, acc.ID)
		return nil, invalidCredentials()
	}

	now := s.clock().UTC()
	if acc.IsLocked(now) {
		return nil, oops.Code(CodeAccountLocked).
			With("locked_until", *acc.LockedUntil).
			Errorf("account is temporarily locked")
	}
	if !acc.EmailConfirmed {
		return nil, oops.Code(CodeEmailNotConfirmed).
			With("account_id", acc.ID.String()).
			Errorf("email address has not been confirmed")
	}

	var upgraded string
	if s.hasher.NeedsUpgrade(acc.PasswordHash) {
		if h, err := s.hasher.Hash(password); err == nil {
			upgraded = h
		}
	}

	var grant *Grant
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.Update(ctx, acc.ID, func(a *account.Account) error {
			a.ClearFailures()
			a.MarkOnline(now)
			if upgraded != "" {
				a.PasswordHash = upgraded
			}
			return nil
		}); err != nil {
			return errutil.Dependency(err, "mark account online")
		}
		var err error
		grant, err = s.openSession(ctx, acc.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "login succeeded",
		"account_id", acc.ID.String(),
		"session_id", grant.SessionID.String())
	return grant, nil
}

// StartSession marks the account online and opens a session without
// checking credentials. It is used right after registration.
func (s *Service) StartSession(ctx context.Context, accountID ulid.ULID) (*Grant, error) {
	now := s.clock().UTC()
	var grant *Grant
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.Update(ctx, accountID, func(a *account.Account) error {
			a.MarkOnline(now)
			return nil
		}); err != nil {
			return errutil.Dependency(err, "mark account online")
		}
		var err error
		grant, err = s.openSession(ctx, accountID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// openSession replaces any previous session of the account. The account
// row written just before serializes concurrent callers.
func (s *Service) openSession(ctx context.Context, accountID ulid.ULID, now time.Time) (*Grant, error) {
	if _, err := s.sessions.DeleteByAccount(ctx, accountID); err != nil {
		return nil, errutil.Dependency(err, "revoke previous sessions")
	}
	session, err := NewSession(accountID, now, s.sessionTTL)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, errutil.Dependency(err, "create session")
	}
	return s.signer.Sign(session)
}

func (s *Service) recordFailure(ctx context.Context, id ulid.ULID) {
	now := s.clock().UTC()
	acc, err := s.accounts.Update(ctx, id, func(a *account.Account) error {
		a.RecordFailure(now)
		return nil
	})
	if err != nil {
		errutil.LogWarn(ctx, s.logger, "record failed login", err, "account_id", id.String())
		return
	}
	if acc.IsLocked(now) && acc.FailedAttempts == account.LockoutThreshold {
		s.logger.WarnContext(ctx, "account locked",
			"account_id", id.String(),
			"locked_until", *acc.LockedUntil)
	}
}

// Logout revokes the account's sessions and marks it offline. Logging out
// an offline account is not an error.
func (s *Service) Logout(ctx context.Context, accountID ulid.ULID) error {
	now := s.clock().UTC()
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.accounts.Update(ctx, accountID, func(a *account.Account) error {
			a.MarkOffline(now)
			return nil
		}); err != nil {
			return errutil.Dependency(err, "mark account offline")
		}
		if _, err := s.sessions.DeleteByAccount(ctx, accountID); err != nil {
			return errutil.Dependency(err, "revoke sessions")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "logout", "account_id", accountID.String())
	return nil
}

// RevokeSessions ends every session of the account without touching its
// online state. Used after credential changes.
func (s *Service) RevokeSessions(ctx context.Context, accountID ulid.ULID) error {
	n, err := s.sessions.DeleteByAccount(ctx, accountID)
	if err != nil {
		return errutil.Dependency(err, "revoke sessions")
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "sessions revoked", "account_id", accountID.String(), "count", n)
	}
	return nil
}

// Status returns the presence of an account.
func (s *Service) Status(ctx context.Context, accountID ulid.ULID) (account.Status, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return account.Status{}, errutil.Dependency(err, "get account")
	}
	return acc.Status(), nil
}

// ValidateSession resolves a grant token to its principal. The session must
// still exist; activity is recorded best-effort.
func (s *Service) ValidateSession(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, unauthenticated("missing")
	}
	now := s.clock().UTC()
	p, err := s.signer.Parse(token, now)
	if err != nil {
		return Principal{}, err
	}

	session, err := s.sessions.GetByID(ctx, p.SessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, unauthenticated("revoked")
		}
		return Principal{}, errutil.Dependency(err, "get session")
	}
	if session.AccountID != p.AccountID {
		return Principal{}, unauthenticated("subject mismatch")
	}
	if session.IsExpired(now) {
		return Principal{}, unauthenticated("expired")
	}

	if now.Sub(session.LastSeenAt) >= activityInterval {
		s.touch(ctx, session, now)
	}
	return p, nil
}

func (s *Service) touch(ctx context.Context, session *Session, now time.Time) {
	if err := s.sessions.UpdateLastSeen(ctx, session.ID, now); err != nil {
		errutil.LogWarn(ctx, s.logger, "update session last seen", err, "session_id", session.ID.String())
		return
	}
	if _, err := s.accounts.Update(ctx, session.AccountID, func(a *account.Account) error {
		a.LastActive = &now
		return nil
	}); err != nil {
		errutil.LogWarn(ctx, s.logger, "update last active", err, "account_id", session.AccountID.String())
	}
}

// PurgeExpiredSessions deletes sessions that have ended.
func (s *Service) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := s.sessions.DeleteExpired(ctx, s.clock().UTC())
	if err != nil {
		return 0, errutil.Dependency(err, "delete expired sessions")
	}
	return n, nil
}
