// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"context"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email       string
	Password    string
	DisplayName string
	// Avatar is the optional profile image.
	Avatar []byte
}

// RegisterResult describes the created account.
type RegisterResult struct {
	AccountID      ulid.ULID
	Email          string
	EmailConfirmed bool
	// Delivery is the outcome of queuing the confirmation email.
	Delivery notify.Delivery
	// Grant is set when auto login is enabled.
	Grant *auth.Grant
}

// Register creates an unconfirmed account and mails a confirmation link.
func (h *Handlers) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	var res *RegisterResult
	err := h.run(ctx, "register", func(ctx context.Context) error {
		email := account.NormalizeEmail(req.Email)
		displayName := account.NormalizeDisplayName(req.DisplayName)

		var contentType string
		var avatarErr error
		if len(req.Avatar) > 0 {
			contentType, avatarErr = h.sniffAvatar(req.Avatar)
		}
		if err := errutil.Validation(
			account.ValidateEmail(email),
			account.ValidatePassword(req.Password),
			account.ValidateDisplayName(displayName),
			avatarErr,
		); err != nil {
			return err
		}

		// Cheap early answer; the store still enforces uniqueness on create.
		if _, err := h.accounts.GetByEmail(ctx, email); err == nil {
			return account.EmailTakenError(email)
		} else if !account.IsNotFound(err) {
			return errutil.Dependency(err, "get account by email")
		}

		hash, err := h.hasher.Hash(req.Password)
		if err != nil {
			return oops.With("operation", "hash password").Wrap(err)
		}

		draft := account.Draft{
			ID:           ulid.Make(),
			Email:        email,
			DisplayName:  displayName,
			PasswordHash: hash,
		}
		if contentType != "" {
			key := draft.ID.String()
			if err := h.avatars.Put(ctx, key, avatar.Object{Data: req.Avatar, ContentType: contentType}); err != nil {
				return errutil.Dependency(err, "store avatar")
			}
			draft.AvatarKey = &key
		}

		acc, err := account.NewAccount(draft)
		if err != nil {
			h.discardAvatar(ctx, draft.AvatarKey)
			return err
		}

		var value string
		err = h.tx.InTransaction(ctx, func(ctx context.Context) error {
			if err := h.accounts.Create(ctx, acc); err != nil {
				return errutil.Dependency(err, "create account")
			}
			v, err := h.tokens.Issue(ctx, acc.ID, token.PurposeEmailConfirmation)
			value = v
			return err
		})
		if err != nil {
			h.discardAvatar(ctx, draft.AvatarKey)
			return err
		}

		res = &RegisterResult{
			AccountID:      acc.ID,
			Email:          acc.Email,
			EmailConfirmed: acc.EmailConfirmed,
		}
		res.Delivery = h.notifier.ConfirmEmail(ctx, recipient(acc), acc.ID.String(), value,
			h.tokens.TTL(token.PurposeEmailConfirmation))

		if h.autoLogin {
			grant, err := h.auth.StartSession(ctx, acc.ID)
			if err != nil {
				// The account exists; the caller can still log in later.
				errutil.LogWarn(ctx, h.logger, "auto login after registration", err,
					"account_id", acc.ID.String())
			} else {
				res.Grant = grant
			}
		}

		h.logger.InfoContext(ctx, "account registered",
			"account_id", acc.ID.String(),
			"email", acc.Email,
			"avatar", acc.AvatarKey != nil,
			"delivery", string(res.Delivery))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (h *Handlers) sniffAvatar(data []byte) (string, error) {
	if h.avatars == nil {
		return "", oops.Code(avatar.CodeInvalidAvatar).
			With("field", "avatar").
			Errorf("avatar uploads are disabled")
	}
	return avatar.Sniff(data, h.avatarMaxBytes)
}

// discardAvatar removes an avatar stored for an account that was not created.
func (h *Handlers) discardAvatar(ctx context.Context, key *string) {
	if key == nil {
		return
	}
	if err := h.avatars.Delete(context.WithoutCancel(ctx), *key); err != nil {
		errutil.LogWarn(ctx, h.logger, "discard orphaned avatar", err, "key", *key)
	}
}

// Avatar returns the profile image of an account.
func (h *Handlers) Avatar(ctx context.Context, userID string) (avatar.Object, error) {
	var obj avatar.Object
	err := h.run(ctx, "avatar", func(ctx context.Context) error {
		id, err := parseAccountID("userId", userID)
		if err != nil {
			return errutil.Validation(err)
		}
		acc, err := h.accounts.GetByID(ctx, id)
		if err != nil {
			return errutil.Dependency(err, "get account")
		}
		if acc.AvatarKey == nil || h.avatars == nil {
			return oops.Code(avatar.CodeNotFound).
				With("account_id", id.String()).
				Wrap(avatar.ErrNotFound)
		}
		obj, err = h.avatars.Get(ctx, *acc.AvatarKey)
		return errutil.Dependency(err, "get avatar")
	})
	return obj, err
}
