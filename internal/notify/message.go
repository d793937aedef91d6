// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind identifies the email template.
type Kind string

// Message kinds.
const (
	KindConfirmEmail  Kind = "confirm_email"
	KindPasswordReset Kind = "password_reset"
	KindEmailChange   Kind = "email_change"
	KindEmailChanged  Kind = "email_changed"
)

func (k Kind) String() string { return string(k) }

// Message is a rendered email ready for delivery.
type Message struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

func newMessageID() string {
	return ulid.Make().String()
}

// Delivery reports what happened to a notification when the request that
// triggered it completed.
type Delivery string

// Delivery outcomes.
const (
	DeliveryQueued Delivery = "queued"
	DeliveryFailed Delivery = "failed"
	DeliveryNone   Delivery = ""
)
