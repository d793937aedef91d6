// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/socialhub/identity/pkg/errutil"
)

// Recipient is the addressee of a notification.
type Recipient struct {
	Email       string
	DisplayName string
}

// Gateway renders account notifications and queues them for delivery.
// Failures are logged and reported as DeliveryFailed; they never propagate.
type Gateway struct {
	composer *Composer
	outbox   Outbox
	links    *Links
	logger   *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(outbox Outbox, links *Links, logger *slog.Logger) (*Gateway, error) {
	if outbox == nil {
		return nil, oops.Code("GATEWAY_INVALID").Errorf("outbox is required")
	}
	if links == nil {
		return nil, oops.Code("GATEWAY_INVALID").Errorf("links are required")
	}
	if logger == nil {
		return nil, oops.Code("GATEWAY_INVALID").Errorf("logger is required")
	}
	composer, err := NewComposer()
	if err != nil {
		return nil, err
	}
	return &Gateway{composer: composer, outbox: outbox, links: links, logger: logger}, nil
}

// Links returns the link builder.
func (g *Gateway) Links() *Links {
	return g.links
}

// ConfirmEmail sends the email confirmation link.
func (g *Gateway) ConfirmEmail(ctx context.Context, to Recipient, accountID, token string, ttl time.Duration) Delivery {
	return g.send(ctx, KindConfirmEmail, to, Data{
		Link:      g.links.ConfirmEmail(accountID, token),
		ExpiresIn: HumanDuration(ttl),
	})
}

// PasswordReset sends the password reset link.
func (g *Gateway) PasswordReset(ctx context.Context, to Recipient, returnURL, token string, ttl time.Duration) Delivery {
	return g.send(ctx, KindPasswordReset, to, Data{
		Link:      g.links.PasswordReset(returnURL, token),
		ExpiresIn: HumanDuration(ttl),
	})
}

// EmailChange sends the confirmation link for a new address to that address.
func (g *Gateway) EmailChange(ctx context.Context, to Recipient, token string, ttl time.Duration) Delivery {
	return g.send(ctx, KindEmailChange, to, Data{
		Link:      g.links.ConfirmEmailChange(token),
		NewEmail:  to.Email,
		ExpiresIn: HumanDuration(ttl),
	})
}

// EmailChanged tells the previous address that the email was changed.
func (g *Gateway) EmailChanged(ctx context.Context, previous Recipient, newEmail string) Delivery {
	return g.send(ctx, KindEmailChanged, previous, Data{NewEmail: newEmail})
}

func (g *Gateway) send(ctx context.Context, kind Kind, to Recipient, data Data) Delivery {
	data.DisplayName = to.DisplayName
	msg, err := g.composer.Compose(kind, to.Email, data)
	if err != nil {
		errutil.LogError(ctx, g.logger, "compose notification", err, "kind", kind.String(), "to", to.Email)
		return DeliveryFailed
	}
	// The state change is already committed; a caller hanging up must not
	// lose the email.
	if err := g.outbox.Enqueue(context.WithoutCancel(ctx), msg); err != nil {
		errutil.LogError(ctx, g.logger, "enqueue notification", err,
			"kind", kind.String(),
			"to", to.Email,
			"message_id", msg.ID)
		return DeliveryFailed
	}
	g.logger.DebugContext(ctx, "notification queued",
		"kind", kind.String(),
		"to", to.Email,
		"message_id", msg.ID)
	return DeliveryQueued
}
