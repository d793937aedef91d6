// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package token issues and redeems single-use verification tokens.
//
// A token authorizes exactly one state transition (email confirmation,
// password reset or email change) for one account. Only the SHA-256 of the
// value is stored; the plaintext leaves the service once, inside a link.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ValueBytes is the entropy of a token value. Values are hex encoded.
const ValueBytes = 32

// Error codes.
const (
	CodeTokenInvalid         = "TOKEN_INVALID"
	CodeTokenExpired         = "TOKEN_EXPIRED"
	CodeTokenAlreadyConsumed = "TOKEN_ALREADY_CONSUMED"
	CodeInvalidTokenFormat   = "INVALID_TOKEN_FORMAT"
)

// Repository sentinels.
var (
	ErrNotFound        = errors.New("token not found")
	ErrAlreadyConsumed = errors.New("token already consumed")
)

// Purpose is the operation a token authorizes.
type Purpose string

// Token purposes.
const (
	PurposeEmailConfirmation Purpose = "email_confirmation"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailChange       Purpose = "email_change"
)

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailConfirmation, PurposePasswordReset, PurposeEmailChange:
		return true
	}
	return false
}

func (p Purpose) String() string { return string(p) }

// Token is a stored verification token.
type Token struct {
	ID         ulid.ULID
	AccountID  ulid.ULID
	Purpose    Purpose
	Hash       string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// IsExpired reports whether the token's window closed before now.
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsConsumed reports whether the token has been used.
func (t *Token) IsConsumed() bool {
	return t.ConsumedAt != nil
}

// Generate creates a random token value and its storage hash.
func Generate() (value, hash string, err error) {
	b := make([]byte, ValueBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	value = hex.EncodeToString(b)
	return value, Hash(value), nil
}

// Hash returns the hex SHA-256 of a token value.
func Hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// ValidateFormat checks that value looks like a token produced by Generate.
func ValidateFormat(value string) error {
	if len(value) != hex.EncodedLen(ValueBytes) {
		return oops.Code(CodeInvalidTokenFormat).
			With("field", "token").
			Errorf("token must be %d hex characters", hex.EncodedLen(ValueBytes))
	}
	if _, err := hex.DecodeString(value); err != nil {
		return oops.Code(CodeInvalidTokenFormat).
			With("field", "token").
			Errorf("token must be hex encoded")
	}
	return nil
}

// Repository persists tokens.
type Repository interface {
	// Create stores a new token.
	Create(ctx context.Context, t *Token) error

	// GetByHash retrieves a token by the hash of its value.
	// Returns ErrNotFound if no token matches.
	GetByHash(ctx context.Context, hash string) (*Token, error)

	// MarkConsumed sets ConsumedAt if and only if it is unset.
	// Returns ErrAlreadyConsumed when another caller consumed it first and
	// ErrNotFound when the token does not exist.
	MarkConsumed(ctx context.Context, id ulid.ULID, at time.Time) error

	// DeleteByAccount removes the account's unconsumed tokens of the given
	// purpose. Consumed tokens stay until they expire so that a replay is
	// reported as already consumed.
	DeleteByAccount(ctx context.Context, accountID ulid.ULID, purpose Purpose) (int64, error)

	// DeleteExpired removes tokens that expired before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
