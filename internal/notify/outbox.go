// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/socialhub/identity/pkg/errutil"
)

// Outbox accepts messages for asynchronous delivery.
type Outbox interface {
	// Enqueue stores msg for delivery. A nil error means the message will be
	// attempted; it does not mean it was delivered.
	Enqueue(ctx context.Context, msg Message) error
}

// Error codes.
const (
	CodeOutboxFull   = "OUTBOX_FULL"
	CodeOutboxClosed = "OUTBOX_CLOSED"
)

// MemoryOutboxConfig configures MemoryOutbox.
type MemoryOutboxConfig struct {
	Workers    int
	QueueSize  int
	MaxRetries uint64
	BaseDelay  time.Duration
}

func (c *MemoryOutboxConfig) withDefaults() {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
}

// MemoryOutbox is an in-process Outbox. Messages are lost on restart.
type MemoryOutbox struct {
	sender Sender
	cfg    MemoryOutboxConfig
	logger *slog.Logger
	queue  chan Message

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMemoryOutbox creates a MemoryOutbox and starts its workers.
func NewMemoryOutbox(sender Sender, cfg MemoryOutboxConfig, logger *slog.Logger) (*MemoryOutbox, error) {
	if sender == nil {
		return nil, oops.Code("OUTBOX_INVALID").Errorf("sender is required")
	}
	if logger == nil {
		return nil, oops.Code("OUTBOX_INVALID").Errorf("logger is required")
	}
	cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	o := &MemoryOutbox{
		sender: sender,
		cfg:    cfg,
		logger: logger,
		queue:  make(chan Message, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.work()
	}
	return o, nil
}

// Enqueue queues msg without blocking. A full queue is reported as
// OUTBOX_FULL so the caller can record the delivery as failed.
func (o *MemoryOutbox) Enqueue(ctx context.Context, msg Message) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return oops.Code(CodeOutboxClosed).Errorf("outbox is closed")
	}
	select {
	case o.queue <- msg:
		record(msg.Kind, StatusQueued)
		return nil
	case <-ctx.Done():
		return errutil.Dependency(ctx.Err(), "enqueue notification")
	default:
		record(msg.Kind, StatusDropped)
		return oops.Code(CodeOutboxFull).
			With("message_id", msg.ID).
			Errorf("notification queue is full")
	}
}

// Close stops accepting messages and waits for queued ones to be delivered.
// If ctx ends first, in-flight retries are abandoned.
func (o *MemoryOutbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	close(o.queue)
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		<-done
		return ctx.Err()
	}
}

func (o *MemoryOutbox) work() {
	defer o.wg.Done()
	for msg := range o.queue {
		deliver(o.ctx, o.sender, msg, o.cfg.MaxRetries, o.cfg.BaseDelay, o.logger)
	}
}

// deliver sends msg, retrying with exponential backoff. It reports whether
// the message was eventually sent.
func deliver(ctx context.Context, sender Sender, msg Message, maxRetries uint64, base time.Duration, logger *slog.Logger) bool {
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(base))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if err := sender.Send(ctx, msg); err != nil {
			if attempt <= int(maxRetries) {
				record(msg.Kind, StatusRetried)
			}
			logger.DebugContext(ctx, "notification attempt failed",
				"message_id", msg.ID,
				"attempt", attempt,
				"error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		record(msg.Kind, StatusFailed)
		errutil.LogError(ctx, logger, "notification delivery failed", err,
			"message_id", msg.ID,
			"kind", msg.Kind.String(),
			"to", msg.To,
			"attempts", attempt)
		return false
	}
	record(msg.Kind, StatusSent)
	logger.InfoContext(ctx, "notification sent",
		"message_id", msg.ID,
		"kind", msg.Kind.String(),
		"to", msg.To,
		"attempts", attempt)
	return true
}
