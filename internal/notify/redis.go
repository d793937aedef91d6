// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/socialhub/identity/pkg/errutil"
)

const payloadField = "message"

// RedisOutboxConfig configures RedisOutbox.
type RedisOutboxConfig struct {
	Stream   string
	Group    string
	Consumer string
	Workers  int
	// MaxRetries is how many redeliveries a failing message gets before it
	// is acknowledged and dropped.
	MaxRetries    int64
	ClaimInterval time.Duration
	Block         time.Duration
}

func (c *RedisOutboxConfig) withDefaults() {
	if c.Stream == "" {
		c.Stream = "identity:notifications"
	}
	if c.Group == "" {
		c.Group = "identity-mailer"
	}
	if c.Consumer == "" {
		c.Consumer = newMessageID()
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 30 * time.Second
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
}

// RedisOutbox stores messages in a Redis stream and delivers them from a
// consumer group. A message is acknowledged only after it was sent, so
// crashed or failing deliveries stay pending and are reclaimed after
// ClaimInterval.
type RedisOutbox struct {
	client *redis.Client
	sender Sender
	cfg    RedisOutboxConfig
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisOutbox creates a RedisOutbox. Call Start to begin delivering.
func NewRedisOutbox(client *redis.Client, sender Sender, cfg RedisOutboxConfig, logger *slog.Logger) (*RedisOutbox, error) {
	if client == nil {
		return nil, oops.Code("OUTBOX_INVALID").Errorf("redis client is required")
	}
	if sender == nil {
		return nil, oops.Code("OUTBOX_INVALID").Errorf("sender is required")
	}
	if logger == nil {
		return nil, oops.Code("OUTBOX_INVALID").Errorf("logger is required")
	}
	cfg.withDefaults()
	return &RedisOutbox{client: client, sender: sender, cfg: cfg, logger: logger}, nil
}

// Enqueue appends msg to the stream.
func (o *RedisOutbox) Enqueue(ctx context.Context, msg Message) error {
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := o.client.XAdd(ctx, &redis.XAddArgs{
		Stream: o.cfg.Stream,
		Values: map[string]any{payloadField: payload},
	}).Err(); err != nil {
		return errutil.Dependency(err, "xadd notification")
	}
	record(msg.Kind, StatusQueued)
	return nil
}

// Start creates the consumer group if needed and launches the workers.
func (o *RedisOutbox) Start(ctx context.Context) error {
	err := o.client.XGroupCreateMkStream(ctx, o.cfg.Stream, o.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return errutil.Dependency(err, "create consumer group")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go o.run(runCtx)
	}
	o.logger.InfoContext(ctx, "redis outbox started",
		"stream", o.cfg.Stream,
		"group", o.cfg.Group,
		"consumer", o.cfg.Consumer)
	return nil
}

// Close stops the workers. Unacknowledged messages remain pending in the
// stream for the next consumer.
func (o *RedisOutbox) Close(ctx context.Context) error {
	if o.cancel == nil {
		return nil
	}
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *RedisOutbox) run(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		if err := o.read(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			errutil.LogError(ctx, o.logger, "stream read failed", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.claimStalled(ctx); err != nil && ctx.Err() == nil {
				errutil.LogError(ctx, o.logger, "claim stalled notifications failed", err)
			}
		default:
		}
	}
}

func (o *RedisOutbox) read(ctx context.Context) error {
	streams, err := o.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    o.cfg.Group,
		Consumer: o.cfg.Consumer,
		Streams:  []string{o.cfg.Stream, ">"},
		Count:    10,
		Block:    o.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}
	for _, stream := range streams {
		for _, xmsg := range stream.Messages {
			o.handle(ctx, xmsg, 1)
		}
	}
	return nil
}

func (o *RedisOutbox) claimStalled(ctx context.Context) error {
	pending, err := o.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: o.cfg.Stream,
		Group:  o.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  10,
		Idle:   o.cfg.ClaimInterval,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		msgs, err := o.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   o.cfg.Stream,
			Group:    o.cfg.Group,
			Consumer: o.cfg.Consumer,
			MinIdle:  o.cfg.ClaimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			errutil.LogWarn(ctx, o.logger, "claim notification", err, "stream_id", entry.ID)
			continue
		}
		for _, xmsg := range msgs {
			o.handle(ctx, xmsg, entry.RetryCount+1)
		}
	}
	return nil
}

func (o *RedisOutbox) handle(ctx context.Context, xmsg redis.XMessage, deliveries int64) {
	msg, err := decodeMessage(xmsg.Values)
	if err != nil {
		errutil.LogError(ctx, o.logger, "undecodable notification dropped", err, "stream_id", xmsg.ID)
		o.ack(ctx, xmsg.ID)
		return
	}

	if sendErr := o.sender.Send(ctx, msg); sendErr != nil {
		if deliveries > o.cfg.MaxRetries {
			record(msg.Kind, StatusFailed)
			errutil.LogError(ctx, o.logger, "notification delivery failed", sendErr,
				"message_id", msg.ID,
				"kind", msg.Kind.String(),
				"deliveries", deliveries)
			o.ack(ctx, xmsg.ID)
			return
		}
		record(msg.Kind, StatusRetried)
		errutil.LogWarn(ctx, o.logger, "notification attempt failed", sendErr,
			"message_id", msg.ID,
			"deliveries", deliveries)
		return
	}

	record(msg.Kind, StatusSent)
	o.logger.InfoContext(ctx, "notification sent",
		"message_id", msg.ID,
		"kind", msg.Kind.String(),
		"to", msg.To,
		"deliveries", deliveries)
	o.ack(ctx, xmsg.ID)
}

func (o *RedisOutbox) ack(ctx context.Context, id string) {
	if err := o.client.XAck(ctx, o.cfg.Stream, o.cfg.Group, id).Err(); err != nil {
		errutil.LogWarn(ctx, o.logger, "ack notification", err, "stream_id", id)
	}
}

func encodeMessage(msg Message) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", oops.Code("NOTIFY_ENCODE_FAILED").With("message_id", msg.ID).Wrap(err)
	}
	return string(b), nil
}

func decodeMessage(values map[string]any) (Message, error) {
	raw, ok := values[payloadField].(string)
	if !ok {
		return Message{}, oops.Code("NOTIFY_DECODE_FAILED").Errorf("stream entry has no %q field", payloadField)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return Message{}, oops.Code("NOTIFY_DECODE_FAILED").Wrap(err)
	}
	if msg.To == "" {
		return Message{}, oops.Code("NOTIFY_DECODE_FAILED").With("message_id", msg.ID).Errorf("message has no recipient")
	}
	return msg, nil
}
