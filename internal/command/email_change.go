// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

// RequestEmailChange records newEmail as pending for the account and mails
// a confirmation link to it. A newer request replaces an older one.
func (h *Handlers) RequestEmailChange(ctx context.Context, accountID ulid.ULID, newEmail string) (notify.Delivery, error) {
	delivery := notify.DeliveryNone
	err := h.run(ctx, "request_email_change", func(ctx context.Context) error {
		if accountID == (ulid.ULID{}) {
			return ErrUnauthenticated()
		}
		email := account.NormalizeEmail(newEmail)
		if err := errutil.Validation(account.ValidateEmail(email)); err != nil {
			return err
		}

		acc, err := h.accounts.GetByID(ctx, accountID)
		if err != nil {
			return errutil.Dependency(err, "get account")
		}
		if acc.Email == email {
			return errutil.Validation(emailUnchanged())
		}
		if _, err := h.accounts.GetByEmail(ctx, email); err == nil {
			return account.EmailTakenError(email)
		} else if !account.IsNotFound(err) {
			return errutil.Dependency(err, "get account by email")
		}

		var value string
		err = h.atomically(ctx, func(ctx context.Context) error {
			updated, err := h.accounts.Update(ctx, accountID, func(a *account.Account) error {
				a.PendingEmail = &email
				return nil
			})
			if err != nil {
				return errutil.Dependency(err, "store pending email")
			}
			acc = updated
			if _, err := h.tokens.Revoke(ctx, accountID, token.PurposeEmailChange); err != nil {
				return err
			}
			v, err := h.tokens.Issue(ctx, accountID, token.PurposeEmailChange)
			value = v
			return err
		})
		if err != nil {
			return err
		}

		delivery = h.notifier.EmailChange(ctx,
			notify.Recipient{Email: email, DisplayName: acc.DisplayName},
			value, h.tokens.TTL(token.PurposeEmailChange))

		h.logger.InfoContext(ctx, "email change requested",
			"account_id", accountID.String(),
			"new_email", email,
			"delivery", string(delivery))
		return nil
	})
	return delivery, err
}

// ConfirmEmailChange swaps the account's email for its pending email. The
// new address counts as confirmed and the previous one is told about the
// change.
func (h *Handlers) ConfirmEmailChange(ctx context.Context, tokenValue string) (notify.Delivery, error) {
	delivery := notify.DeliveryNone
	err := h.run(ctx, "confirm_email_change", func(ctx context.Context) error {
		if err := errutil.Validation(token.ValidateFormat(tokenValue)); err != nil {
			return err
		}

		var previous notify.Recipient
		var updated *account.Account
		err := h.atomically(ctx, func(ctx context.Context) error {
			t, err := h.tokens.Redeem(ctx, tokenValue, token.PurposeEmailChange)
			if err != nil {
				return err
			}
			updated, err = h.accounts.Update(ctx, t.AccountID, func(a *account.Account) error {
				if a.PendingEmail == nil {
					return ErrTokenInvalid("no pending email change")
				}
				previous = recipient(a)
				a.Email = *a.PendingEmail
				a.PendingEmail = nil
				a.EmailConfirmed = true
				return nil
			})
			return errutil.Dependency(err, "swap email")
		})
		if err != nil {
			return err
		}

		delivery = h.notifier.EmailChanged(ctx, previous, updated.Email)

		h.logger.InfoContext(ctx, "email changed",
			"account_id", updated.ID.String(),
			"new_email", updated.Email,
			"delivery", string(delivery))
		return nil
	})
	return delivery, err
}
