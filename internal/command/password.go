// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"context"

	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

// ForgotPasswordRequest asks for a reset link.
type ForgotPasswordRequest struct {
	Email string
	// ReturnURL is the client page the link should open. It is used only
	// when it matches the configured allow-list.
	ReturnURL string
}

// ForgotPassword mails a password reset link. It succeeds for unknown
// emails too so that callers cannot probe which addresses have accounts;
// the returned Delivery is DeliveryNone in that case and must not be shown
// to the caller.
func (h *Handlers) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (notify.Delivery, error) {
	delivery := notify.DeliveryNone
	err := h.run(ctx, "forgot_password", func(ctx context.Context) error {
		email := account.NormalizeEmail(req.Email)
		if err := errutil.Validation(account.ValidateEmail(email)); err != nil {
			return err
		}

		acc, err := h.accounts.GetByEmail(ctx, email)
		if err != nil {
			if account.IsNotFound(err) {
				h.logger.DebugContext(ctx, "password reset for unknown email", "email", email)
				return nil
			}
			return errutil.Dependency(err, "get account by email")
		}

		value, err := h.tokens.Issue(ctx, acc.ID, token.PurposePasswordReset)
		if err != nil {
			return err
		}
		delivery = h.notifier.PasswordReset(ctx, recipient(acc), req.ReturnURL, value,
			h.tokens.TTL(token.PurposePasswordReset))

		h.logger.InfoContext(ctx, "password reset requested",
			"account_id", acc.ID.String(),
			"delivery", string(delivery))
		return nil
	})
	return delivery, err
}

// ResetPasswordRequest sets a new password with a reset token.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

// ResetPassword replaces the password of the token's account. The token is
// checked before the password policy, so a stale token is reported as such
// whatever the new password. On success every session of the account ends,
// the lockout counter is cleared and other reset tokens are revoked.
func (h *Handlers) ResetPassword(ctx context.Context, req ResetPasswordRequest) error {
	return h.run(ctx, "reset_password", func(ctx context.Context) error {
		if err := errutil.Validation(token.ValidateFormat(req.Token)); err != nil {
			return err
		}
		if _, err := h.tokens.Validate(ctx, req.Token, token.PurposePasswordReset); err != nil {
			return err
		}
		if err := errutil.Validation(account.ValidatePassword(req.NewPassword)); err != nil {
			return err
		}

		hash, err := h.hasher.Hash(req.NewPassword)
		if err != nil {
			return oops.With("operation", "hash password").Wrap(err)
		}

		var accountID string
		err = h.atomically(ctx, func(ctx context.Context) error {
			t, err := h.tokens.Redeem(ctx, req.Token, token.PurposePasswordReset)
			if err != nil {
				return err
			}
			accountID = t.AccountID.String()
			now := h.clock().UTC()
			if _, err := h.accounts.Update(ctx, t.AccountID, func(a *account.Account) error {
				a.PasswordHash = hash
				a.ClearFailures()
				a.MarkOffline(now)
				return nil
			}); err != nil {
				return errutil.Dependency(err, "update password")
			}
			if _, err := h.tokens.Revoke(ctx, t.AccountID, token.PurposePasswordReset); err != nil {
				return err
			}
			return h.auth.RevokeSessions(ctx, t.AccountID)
		})
		if err != nil {
			return err
		}

		h.logger.InfoContext(ctx, "password reset", "account_id", accountID)
		return nil
	})
}
