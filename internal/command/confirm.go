// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"context"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

// ConfirmEmail marks the account's email confirmed. The token must have been
// issued to userID for email confirmation.
func (h *Handlers) ConfirmEmail(ctx context.Context, userID, tokenValue string) error {
	return h.run(ctx, "confirm_email", func(ctx context.Context) error {
		id, idErr := parseAccountID("userId", userID)
		if err := errutil.Validation(idErr, token.ValidateFormat(tokenValue)); err != nil {
			return err
		}

		err := h.atomically(ctx, func(ctx context.Context) error {
			t, err := h.tokens.Redeem(ctx, tokenValue, token.PurposeEmailConfirmation)
			if err != nil {
				return err
			}
			if t.AccountID != id {
				return ErrTokenInvalid("account mismatch")
			}
			_, err = h.accounts.Update(ctx, id, func(a *account.Account) error {
				a.EmailConfirmed = true
				return nil
			})
			return errutil.Dependency(err, "confirm email")
		})
		if err != nil {
			return err
		}

		h.logger.InfoContext(ctx, "email confirmed", "account_id", id.String())
		return nil
	})
}

// ResendConfirmEmail issues a fresh confirmation token and mails it. Earlier
// tokens stay valid until they expire.
func (h *Handlers) ResendConfirmEmail(ctx context.Context, email string) (notify.Delivery, error) {
	delivery := notify.DeliveryNone
	err := h.run(ctx, "resend_confirm_email", func(ctx context.Context) error {
		email = account.NormalizeEmail(email)
		if err := errutil.Validation(account.ValidateEmail(email)); err != nil {
			return err
		}

		acc, err := h.accounts.GetByEmail(ctx, email)
		if err != nil {
			return errutil.Dependency(err, "get account by email")
		}
		if acc.EmailConfirmed {
			return ErrEmailAlreadyConfirmed(acc.ID)
		}

		value, err := h.tokens.Issue(ctx, acc.ID, token.PurposeEmailConfirmation)
		if err != nil {
			return err
		}
		delivery = h.notifier.ConfirmEmail(ctx, recipient(acc), acc.ID.String(), value,
			h.tokens.TTL(token.PurposeEmailConfirmation))

		h.logger.InfoContext(ctx, "confirmation email resent",
			"account_id", acc.ID.String(),
			"delivery", string(delivery))
		return nil
	})
	return delivery, err
}
