// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/socialhub/identity/pkg/errutil"
)

// Transactor implements store.Transactor. The active pgx.Tx travels in the
// context so every repository call made with it joins the transaction.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a Transactor backed by pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// InTransaction begins a transaction and calls fn with it. The transaction
// commits if fn returns nil and rolls back otherwise. A nested call joins
// the outer transaction.
func (t *Transactor) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return errutil.Dependency(err, "begin transaction")
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errutil.Dependency(err, "commit transaction")
	}
	return nil
}
