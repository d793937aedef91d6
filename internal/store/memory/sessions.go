// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/auth"
)

// SessionRepository implements auth.SessionRepository.
type SessionRepository struct {
	mu   sync.RWMutex
	byID map[ulid.ULID]auth.Session
}

// NewSessionRepository creates an empty SessionRepository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{byID: make(map[ulid.ULID]auth.Session)}
}

// Create stores a session.
func (r *SessionRepository) Create(ctx context.Context, s *auth.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = *s

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, s.ID)
	})
	return nil
}

// GetByID retrieves a session.
func (r *SessionRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &s, nil
}

// DeleteByAccount removes every session of accountID.
func (r *SessionRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID) (int64, error) {
	return r.deleteWhere(ctx, func(s auth.Session) bool { return s.AccountID == accountID })
}

// DeleteExpired removes sessions that expired before the given time.
func (r *SessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(ctx, func(s auth.Session) bool { return s.ExpiresAt.Before(before) })
}

func (r *SessionRepository) deleteWhere(ctx context.Context, match func(auth.Session) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []auth.Session
	for id, s := range r.byID {
		if match(s) {
			removed = append(removed, s)
			delete(r.byID, id)
		}
	}
	if len(removed) > 0 {
		recordUndo(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, s := range removed {
				r.byID[s.ID] = s
			}
		})
	}
	return int64(len(removed)), nil
}

// UpdateLastSeen records activity on a session.
func (r *SessionRepository) UpdateLastSeen(ctx context.Context, id ulid.ULID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	s.LastSeenAt = at
	r.byID[id] = s
	return nil
}
