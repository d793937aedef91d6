// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package account

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Account is a user's durable identity record.
type Account struct {
	ID             ulid.ULID
	Email          string
	DisplayName    string
	PasswordHash   string
	EmailConfirmed bool
	PendingEmail   *string
	IsOnline       bool
	LastActive     *time.Time
	AvatarKey      *string
	FailedAttempts int
	LockedUntil    *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Draft carries the fields needed to create an account.
type Draft struct {
	// ID is optional; a new ULID is generated when zero. Registration
	// pre-allocates it so the avatar can be stored under the same key.
	ID           ulid.ULID
	Email        string
	DisplayName  string
	PasswordHash string
	AvatarKey    *string
}

// NewAccount creates a validated, unconfirmed Account from a draft.
func NewAccount(d Draft) (*Account, error) {
	email := NormalizeEmail(d.Email)
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	name := NormalizeDisplayName(d.DisplayName)
	if err := ValidateDisplayName(name); err != nil {
		return nil, err
	}
	if d.PasswordHash == "" {
		return nil, oops.Code("ACCOUNT_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	id := d.ID
	if id.Compare(ulid.ULID{}) == 0 {
		id = ulid.Make()
	}

	now := time.Now().UTC()
	return &Account{
		ID:           id,
		Email:        email,
		DisplayName:  name,
		PasswordHash: d.PasswordHash,
		AvatarKey:    d.AvatarKey,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Clone returns a deep copy so stores can hand out accounts without sharing
// pointer fields.
func (a *Account) Clone() *Account {
	c := *a
	c.PendingEmail = clonePtr(a.PendingEmail)
	c.LastActive = clonePtr(a.LastActive)
	c.AvatarKey = clonePtr(a.AvatarKey)
	c.LockedUntil = clonePtr(a.LockedUntil)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// MarkOnline records a successful login at t.
func (a *Account) MarkOnline(t time.Time) {
	a.IsOnline = true
	a.LastActive = &t
}

// MarkOffline records a logout at t.
func (a *Account) MarkOffline(t time.Time) {
	a.IsOnline = false
	a.LastActive = &t
}

// Status is the publicly visible presence of an account.
type Status struct {
	IsOnline   bool
	LastActive *time.Time
}

// Status returns the account's presence.
func (a *Account) Status() Status {
	return Status{IsOnline: a.IsOnline, LastActive: clonePtr(a.LastActive)}
}

// Mutation changes an account in place. Stores may call a mutation more than
// once when retrying, so it must depend only on its argument. Returning an
// error aborts the update without writing.
type Mutation func(a *Account) error

// Repository is the credential store.
type Repository interface {
	// Create stores a new account. Returns an EMAIL_TAKEN error if another
	// account already uses the email (case-insensitive).
	Create(ctx context.Context, a *Account) error

	// GetByID retrieves an account by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// GetByEmail retrieves an account by email (case-insensitive).
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// Update applies mutate to the current record and persists it if the
	// record was not modified in between. The stored Version is incremented
	// and UpdatedAt refreshed. Returns the updated account.
	Update(ctx context.Context, id ulid.ULID, mutate Mutation) (*Account, error)
}
