// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package notify delivers account emails out of band.
//
// Handlers commit their state change first and then hand a Message to the
// Gateway, which renders it and enqueues it on an Outbox. Delivery happens
// on outbox workers with retries, so a mail relay outage never rolls back an
// account transition and never fails the request that triggered it.
//
// Two outboxes exist: MemoryOutbox (bounded channel drained by a worker
// pool) and RedisOutbox (a Redis stream read through a consumer group, so
// messages survive restarts and are shared between replicas).
package notify
