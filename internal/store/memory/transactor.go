// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package memory

import (
	"context"
	"sync"
)

type txKey struct{}

type journal struct {
	mu   sync.Mutex
	undo []func()
}

func (j *journal) rollback() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// recordUndo registers fn to run if the transaction carried by ctx fails.
// Outside a transaction it does nothing. fn must take its own locks.
func recordUndo(ctx context.Context, fn func()) {
	j, ok := ctx.Value(txKey{}).(*journal)
	if !ok {
		return
	}
	j.mu.Lock()
	j.undo = append(j.undo, fn)
	j.mu.Unlock()
}

// Transactor implements store.Transactor with an undo journal. Transactions
// run one at a time; writes made outside a transaction are not blocked.
type Transactor struct {
	mu sync.Mutex
}

// NewTransactor creates a Transactor.
func NewTransactor() *Transactor {
	return &Transactor{}
}

// InTransaction calls fn with a journaled context and undoes its writes if
// fn fails. Nested calls join the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*journal); ok {
		return fn(ctx)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	j := &journal{}
	if err := fn(context.WithValue(ctx, txKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}
