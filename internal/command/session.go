// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/pkg/errutil"
)

// LoginRequest carries credentials.
type LoginRequest struct {
	Email    string
	Password string
}

// Login verifies credentials and opens a session. Unknown emails and wrong
// passwords fail with the same AUTH_INVALID_CREDENTIALS error.
func (h *Handlers) Login(ctx context.Context, req LoginRequest) (*auth.Grant, error) {
	var grant *auth.Grant
	err := h.run(ctx, "login", func(ctx context.Context) error {
		var emailErr, passwordErr error
		if account.NormalizeEmail(req.Email) == "" {
			emailErr = required(account.CodeInvalidEmail, "email")
		}
		if req.Password == "" {
			passwordErr = required(account.CodeInvalidPassword, "password")
		}
		if err := errutil.Validation(emailErr, passwordErr); err != nil {
			return err
		}

		return h.retryConflicts(ctx, func(ctx context.Context) error {
			g, err := h.auth.Login(ctx, req.Email, req.Password)
			grant = g
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

// Logout ends the caller's session and marks the account offline. Logging
// out twice is not an error.
func (h *Handlers) Logout(ctx context.Context, accountID ulid.ULID) error {
	return h.run(ctx, "logout", func(ctx context.Context) error {
		if accountID == (ulid.ULID{}) {
			return ErrUnauthenticated()
		}
		return h.retryConflicts(ctx, func(ctx context.Context) error {
			return h.auth.Logout(ctx, accountID)
		})
	})
}

// GetUserStatus reports whether an account is online and when it was last
// active.
func (h *Handlers) GetUserStatus(ctx context.Context, userID string) (account.Status, error) {
	var status account.Status
	err := h.run(ctx, "get_user_status", func(ctx context.Context) error {
		id, err := parseAccountID("userId", userID)
		if err != nil {
			return errutil.Validation(err)
		}
		status, err = h.auth.Status(ctx, id)
		return err
	})
	return status, err
}
