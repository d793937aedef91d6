// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/pkg/errutil"
)

// emailConstraint is the unique index on LOWER(email).
const emailConstraint = "accounts_email_key"

const accountColumns = `id, email, display_name, password_hash, email_confirmed,
	pending_email, is_online, last_active, avatar_key, failed_attempts,
	locked_until, version, created_at, updated_at`

// AccountRepository implements account.Repository.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates an AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// Create stores a new account.
func (r *AccountRepository) Create(ctx context.Context, a *account.Account) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		a.ID.String(),
		account.NormalizeEmail(a.Email),
		a.DisplayName,
		a.PasswordHash,
		a.EmailConfirmed,
		a.PendingEmail,
		a.IsOnline,
		a.LastActive,
		a.AvatarKey,
		a.FailedAttempts,
		a.LockedUntil,
		a.Version,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if isUniqueViolation(err, emailConstraint) {
		return account.EmailTakenError(a.Email)
	}
	return errutil.Dependency(err, "insert account")
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*account.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id.String())

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.NotFoundError("account_id", id.String())
	}
	if err != nil {
		return nil, errutil.Dependency(err, "get account by id")
	}
	return a, nil
}

// GetByEmail retrieves an account by email (case-insensitive).
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*account.Account, error) {
	email = account.NormalizeEmail(email)
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE LOWER(email) = $1
	`, email)

	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, account.NotFoundError("email", email)
	}
	if err != nil {
		return nil, errutil.Dependency(err, "get account by email")
	}
	return a, nil
}

// Update reads the account, applies mutate and writes it back guarded by
// the version it read. A concurrent writer makes it fail with CONFLICT.
func (r *AccountRepository) Update(ctx context.Context, id ulid.ULID, mutate account.Mutation) (*account.Account, error) {
	a, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := a.Version
	if err := mutate(a); err != nil {
		return nil, err
	}
	a.ID = id
	a.Email = account.NormalizeEmail(a.Email)
	now := time.Now().UTC()

	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE accounts SET
			email = $3,
			display_name = $4,
			password_hash = $5,
			email_confirmed = $6,
			pending_email = $7,
			is_online = $8,
			last_active = $9,
			avatar_key = $10,
			failed_attempts = $11,
			locked_until = $12,
			version = version + 1,
			updated_at = $13
		WHERE id = $1 AND version = $2
	`,
		id.String(),
		expected,
		a.Email,
		a.DisplayName,
		a.PasswordHash,
		a.EmailConfirmed,
		a.PendingEmail,
		a.IsOnline,
		a.LastActive,
		a.AvatarKey,
		a.FailedAttempts,
		a.LockedUntil,
		now,
	)
	if isUniqueViolation(err, emailConstraint) {
		return nil, account.EmailTakenError(a.Email)
	}
	if err != nil {
		return nil, errutil.Dependency(err, "update account")
	}
	if tag.RowsAffected() == 0 {
		return nil, account.ConflictError(id, expected)
	}
	a.Version = expected + 1
	a.UpdatedAt = now
	return a, nil
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		a  account.Account
		id string
	)
	err := row.Scan(
		&id,
		&a.Email,
		&a.DisplayName,
		&a.PasswordHash,
		&a.EmailConfirmed,
		&a.PendingEmail,
		&a.IsOnline,
		&a.LastActive,
		&a.AvatarKey,
		&a.FailedAttempts,
		&a.LockedUntil,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.ID, err = parseID(id, "account_id"); err != nil {
		return nil, err
	}
	return &a, nil
}
