// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/token"
)

// Error codes raised by the handlers themselves. Everything else comes from
// the account, token and auth packages.
const (
	CodeEmailAlreadyConfirmed = "EMAIL_ALREADY_CONFIRMED"
	CodeInvalidAccountID      = "INVALID_ACCOUNT_ID"
)

// ErrEmailAlreadyConfirmed creates an error for a confirmation request on a
// confirmed account.
func ErrEmailAlreadyConfirmed(accountID ulid.ULID) error {
	return oops.Code(CodeEmailAlreadyConfirmed).
		With("account_id", accountID.String()).
		Errorf("email address is already confirmed")
}

// ErrTokenInvalid creates an error for a token that does not authorize the
// requested transition.
func ErrTokenInvalid(reason string) error {
	return oops.Code(token.CodeTokenInvalid).
		With("reason", reason).
		Errorf("token is invalid")
}

// ErrUnauthenticated creates an error for an operation that needs a caller
// identity but got none.
func ErrUnauthenticated() error {
	return oops.Code(auth.CodeUnauthenticated).
		With("reason", "missing").
		Errorf("authentication required")
}

func required(code, field string) error {
	return oops.Code(code).
		With("field", field).
		Errorf("%s is required", field)
}

// parseAccountID parses an account id supplied by a caller. field names the
// request parameter in the returned field error.
func parseAccountID(field, raw string) (ulid.ULID, error) {
	if raw == "" {
		return ulid.ULID{}, required(CodeInvalidAccountID, field)
	}
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidAccountID).
			With("field", field).
			Errorf("%s is not a valid account id", field)
	}
	return id, nil
}

func emailUnchanged() error {
	return oops.Code(account.CodeInvalidEmail).
		With("field", "email").
		Errorf("new email must differ from the current one")
}
