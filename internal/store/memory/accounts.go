// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/account"
)

// AccountRepository implements account.Repository.
type AccountRepository struct {
	mu      sync.RWMutex
	byID    map[ulid.ULID]*account.Account
	byEmail map[string]ulid.ULID
}

// NewAccountRepository creates an empty AccountRepository.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		byID:    make(map[ulid.ULID]*account.Account),
		byEmail: make(map[string]ulid.ULID),
	}
}

// Create stores a new account, enforcing email uniqueness.
func (r *AccountRepository) Create(ctx context.Context, a *account.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email := account.NormalizeEmail(a.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byEmail[email]; taken {
		return account.EmailTakenError(email)
	}
	stored := a.Clone()
	stored.Email = email
	r.byID[a.ID] = stored
	r.byEmail[email] = a.ID

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byID, a.ID)
		delete(r.byEmail, email)
	})
	return nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, account.NotFoundError("account_id", id.String())
	}
	return a.Clone(), nil
}

// GetByEmail retrieves an account by email, ignoring case.
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = account.NormalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, account.NotFoundError("email", email)
	}
	return r.byID[id].Clone(), nil
}

// Update applies mutate to a snapshot and stores it if the account's
// version did not move in between.
func (r *AccountRepository) Update(ctx context.Context, id ulid.ULID, mutate account.Mutation) (*account.Account, error) {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := current.Version
	if err := mutate(current); err != nil {
		return nil, err
	}
	current.ID = id
	current.Email = account.NormalizeEmail(current.Email)

	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.byID[id]
	if !ok {
		return nil, account.NotFoundError("account_id", id.String())
	}
	if prev.Version != expected {
		return nil, account.ConflictError(id, expected)
	}
	if current.Email != prev.Email {
		if owner, taken := r.byEmail[current.Email]; taken && owner != id {
			return nil, account.EmailTakenError(current.Email)
		}
		delete(r.byEmail, prev.Email)
		r.byEmail[current.Email] = id
	}
	current.Version = expected + 1
	current.UpdatedAt = time.Now().UTC()
	r.byID[id] = current

	recordUndo(ctx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		latest, ok := r.byID[id]
		if !ok {
			return
		}
		restored := prev
		if latest.Version != current.Version {
			// Another writer committed on top of this one. Keep its changes
			// and revert only the fields this write touched.
			restored = latest.Clone()
			revertFields(restored, prev, current)
			restored.Version = latest.Version + 1
			restored.UpdatedAt = time.Now().UTC()
		}
		if restored.Email != latest.Email {
			if owner, taken := r.byEmail[restored.Email]; taken && owner != id {
				restored.Email = latest.Email
			} else {
				delete(r.byEmail, latest.Email)
				r.byEmail[restored.Email] = id
			}
		}
		r.byID[id] = restored
	})
	return current.Clone(), nil
}

// revertFields sets each field of dst that still holds the value written
// by next back to its value in prev. Fields changed since are kept.
func revertFields(dst, prev, next *account.Account) {
	d := reflect.ValueOf(dst).Elem()
	p := reflect.ValueOf(prev).Elem()
	n := reflect.ValueOf(next).Elem()
	for i := range d.NumField() {
		was, wrote := p.Field(i).Interface(), n.Field(i).Interface()
		if reflect.DeepEqual(was, wrote) || !reflect.DeepEqual(d.Field(i).Interface(), wrote) {
			continue
		}
		d.Field(i).Set(p.Field(i))
	}
}
