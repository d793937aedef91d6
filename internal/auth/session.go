// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultSessionTTL is the lifetime of a login session.
const DefaultSessionTTL = 24 * time.Hour

// Session is a server-side login session.
type Session struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastSeenAt time.Time
}

// NewSession creates a session for accountID that expires ttl after now.
func NewSession(accountID ulid.ULID, now time.Time, ttl time.Duration) (*Session, error) {
	if accountID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_ACCOUNT").Errorf("account ID cannot be zero")
	}
	if ttl <= 0 {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("session lifetime must be positive")
	}
	now = now.UTC()
	return &Session{
		ID:         ulid.Make(),
		AccountID:  accountID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastSeenAt: now,
	}, nil
}

// IsExpired reports whether the session has ended at t.
func (s *Session) IsExpired(t time.Time) bool {
	return t.After(s.ExpiresAt)
}

// SessionRepository persists sessions.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, s *Session) error

	// GetByID retrieves a session. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, id ulid.ULID) (*Session, error)

	// DeleteByAccount removes every session of an account.
	DeleteByAccount(ctx context.Context, accountID ulid.ULID) (int64, error)

	// DeleteExpired removes sessions that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	// UpdateLastSeen records activity on a session.
	UpdateLastSeen(ctx context.Context, id ulid.ULID, at time.Time) error
}
