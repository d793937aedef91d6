// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

// TokenRepository implements token.Repository. Only token hashes are
// stored.
type TokenRepository struct {
	pool Pool
}

// NewTokenRepository creates a TokenRepository.
func NewTokenRepository(pool Pool) *TokenRepository {
	return &TokenRepository{pool: pool}
}

// Create stores a new token.
func (r *TokenRepository) Create(ctx context.Context, t *token.Token) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO verification_tokens (id, account_id, purpose, token_hash, issued_at, expires_at, consumed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		t.ID.String(),
		t.AccountID.String(),
		string(t.Purpose),
		t.Hash,
		t.IssuedAt,
		t.ExpiresAt,
		t.ConsumedAt,
	)
	return errutil.Dependency(err, "insert token")
}

// GetByHash retrieves a token by the hash of its value.
func (r *TokenRepository) GetByHash(ctx context.Context, hash string) (*token.Token, error) {
	var (
		t             token.Token
		id, accountID string
		purpose       string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, account_id, purpose, token_hash, issued_at, expires_at, consumed_at
		FROM verification_tokens
		WHERE token_hash = $1
	`, hash).Scan(&id, &accountID, &purpose, &t.Hash, &t.IssuedAt, &t.ExpiresAt, &t.ConsumedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, token.ErrNotFound
	}
	if err != nil {
		return nil, errutil.Dependency(err, "get token")
	}
	if t.ID, err = parseID(id, "token_id"); err != nil {
		return nil, err
	}
	if t.AccountID, err = parseID(accountID, "account_id"); err != nil {
		return nil, err
	}
	t.Purpose = token.Purpose(purpose)
	return &t, nil
}

// MarkConsumed sets consumed_at unless another caller already did.
func (r *TokenRepository) MarkConsumed(ctx context.Context, id ulid.ULID, at time.Time) error {
	q := conn(ctx, r.pool)
	tag, err := q.Exec(ctx, `
		UPDATE verification_tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL
	`, id.String(), at)
	if err != nil {
		return errutil.Dependency(err, "consume token")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var consumed bool
	err = q.QueryRow(ctx, `
		SELECT consumed_at IS NOT NULL FROM verification_tokens WHERE id = $1
	`, id.String()).Scan(&consumed)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return token.ErrNotFound
	case err != nil:
		return errutil.Dependency(err, "check token")
	case consumed:
		return token.ErrAlreadyConsumed
	default:
		return errutil.Dependency(errors.New("token update affected no rows"), "consume token")
	}
}

// DeleteByAccount removes the account's unconsumed tokens of purpose.
func (r *TokenRepository) DeleteByAccount(ctx context.Context, accountID ulid.ULID, purpose token.Purpose) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM verification_tokens
		WHERE account_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`, accountID.String(), string(purpose))
	if err != nil {
		return 0, errutil.Dependency(err, "delete account tokens")
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes tokens that expired before the given time.
func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM verification_tokens WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, errutil.Dependency(err, "delete expired tokens")
	}
	return tag.RowsAffected(), nil
}
