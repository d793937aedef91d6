// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/token"
)

// TokenRepository implements token.Repository.
type TokenRepository struct {
	mu     sync.RWMutex
	byID   map[ulid.ULID]*token.Token
	byHash map[string]ulid.ULID
}

// NewTokenRepository creates an empty TokenRepository.
func NewTokenRepository() *TokenRepository {
	return &TokenRepository{
		byID:   make(map[ulid.ULID]*token.Token),
		byHash: make(map[string]ulid.ULID),
	}
}

func cloneToken(t *token.Token) *token.Token {
	c := *t
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}

// Create stores a token.
func (r *TokenRepository) Create(ctx context.Context, t *token.Token) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = cloneToken(t)
	r.byHash[t.Hash] = t.ID

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, t.ID)
		delete(r.byHash, t.Hash)
	})
	return nil
}

// GetByHash retrieves a token by value hash.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*token.Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHash[hash]
	if !ok {
		return nil, token.ErrNotFound
	}
	return cloneToken(r.byID[id]), nil
}

// MarkConsumed sets ConsumedAt if unset.
func (r *TokenRepository) MarkConsumed(ctx context.Context, id ulid.ULID, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return token.ErrNotFound
	}
	if t.ConsumedAt != nil {
		return token.ErrAlreadyConsumed
	}
	t.ConsumedAt = &at

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, ok := r.byID[id]; ok && cur.ConsumedAt != nil && cur.ConsumedAt.Equal(at) {
			cur.ConsumedAt = nil
		}
	})
	return nil
}

// DeleteByAccount removes the account's unconsumed tokens of purpose.
func (r *TokenRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID, purpose token.Purpose) (int64, error) {
	return r.deleteWhere(ctx, func(t *token.Token) bool {
		return t.AccountID == accountID && t.Purpose == purpose && t.ConsumedAt == nil
	})
}

// DeleteExpired removes tokens that expired before the given time.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return r.deleteWhere(ctx, func(t *token.Token) bool {
		return t.ExpiresAt.Before(before)
	})
}

func (r *TokenRepository) deleteWhere(ctx context.Context, match func(*token.Token) bool) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []*token.Token
	for id, t := range r.byID {
		if match(t) {
			removed = append(removed, t)
			delete(r.byID, id)
			delete(r.byHash, t.Hash)
		}
	}
	if len(removed) > 0 {
		recordUndo(ctx, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for _, t := range removed {
				r.byID[t.ID] = t
				r.byHash[t.Hash] = t.ID
			}
		})
	}
	return int64(len(removed)), nil
}
