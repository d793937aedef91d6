// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned by SessionRepository when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Error codes.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeEmailNotConfirmed  = "AUTH_EMAIL_NOT_CONFIRMED"
	CodeAccountLocked      = "AUTH_ACCOUNT_LOCKED"
	CodeUnauthenticated    = "AUTH_UNAUTHENTICATED"
)

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func unauthenticated(reason string) error {
	return oops.Code(CodeUnauthenticated).
		With("reason", reason).
		Errorf("authentication required")
}
