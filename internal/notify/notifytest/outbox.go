// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package notifytest provides an in-memory Outbox for tests.
package notifytest

import (
	"context"
	"regexp"
	"sync"

	"github.com/socialhub/identity/internal/notify"
)

var tokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)

// Outbox records enqueued messages. Set Err to make Enqueue fail.
type Outbox struct {
	mu       sync.Mutex
	messages []notify.Message
	Err      error
}

// Enqueue records msg or returns Err.
func (o *Outbox) Enqueue(_ context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.Err != nil {
		return o.Err
	}
	o.messages = append(o.messages, msg)
	return nil
}

// SetErr changes the error returned by Enqueue.
func (o *Outbox) SetErr(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Err = err
}

// Messages returns a copy of the recorded messages.
func (o *Outbox) Messages() []notify.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]notify.Message(nil), o.messages...)
}

// Last returns the most recent message of kind sent to to.
func (o *Outbox) Last(kind notify.Kind, to string) (notify.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if m := o.messages[i]; m.Kind == kind && m.To == to {
			return m, true
		}
	}
	return notify.Message{}, false
}

// Token extracts the token value embedded in a message's link.
func Token(msg notify.Message) string {
	m := tokenPattern.FindStringSubmatch(msg.Text)
	if m == nil {
		return ""
	}
	return m[1]
}
