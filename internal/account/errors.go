// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package account

import (
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("account not found")

// Error codes raised by the credential store and account validation.
const (
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	CodeEmailTaken         = "EMAIL_TAKEN"
	CodeConflict           = "CONFLICT"
	CodeInvalidEmail       = "INVALID_EMAIL"
	CodeInvalidPassword    = "INVALID_PASSWORD"
	CodeInvalidDisplayName = "INVALID_DISPLAY_NAME"
)

// NotFoundError reports a missing account. It wraps ErrNotFound.
func NotFoundError(key, value string) error {
	return oops.Code(CodeAccountNotFound).
		With(key, value).
		Wrap(ErrNotFound)
}

// EmailTakenError reports a uniqueness violation on email.
func EmailTakenError(email string) error {
	return oops.Code(CodeEmailTaken).
		With("email", email).
		Errorf("email %s is already registered", email)
}

// ConflictError reports a concurrent modification detected on update.
func ConflictError(id ulid.ULID, expectedVersion int64) error {
	return oops.Code(CodeConflict).
		With("account_id", id.String()).
		With("expected_version", expectedVersion).
		Errorf("account was modified concurrently")
}

// IsNotFound reports whether err means the account does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
