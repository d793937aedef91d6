// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/pkg/errutil"
)

// SessionRepository implements auth.SessionRepository.
type SessionRepository struct {
	pool Pool
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(pool Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO sessions (id, account_id, created_at, expires_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5)
	`, s.ID.String(), s.AccountID.String(), s.CreatedAt, s.ExpiresAt, s.LastSeenAt)
	return errutil.Dependency(err, "insert session")
}

// GetByID retrieves a session.
func (r *SessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	var (
		s         auth.Session
		accountID string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT account_id, created_at, expires_at, last_seen_at
		FROM sessions
		WHERE id = $1
	`, id.String()).Scan(&accountID, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, errutil.Dependency(err, "get session")
	}
	s.ID = id
	if s.AccountID, err = parseID(accountID, "account_id"); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteByAccount removes every session of an account.
func (r *SessionRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID.String())
	if err != nil {
		return 0, errutil.Dependency(err, "delete account sessions")
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, errutil.Dependency(err, "delete expired sessions")
	}
	return tag.RowsAffected(), nil
}

// UpdateLastSeen records activity on a session.
func (r *SessionRepository) UpdateLastSeen(ctx context.Context, id ulid.ULID, at time.Time) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE sessions SET last_seen_at = $2 WHERE id = $1
	`, id.String(), at)
	if err != nil {
		return errutil.Dependency(err, "touch session")
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrNotFound
	}
	return nil
}
