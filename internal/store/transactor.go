// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package store holds the contracts shared by the storage backends in
// store/memory and store/postgres.
package store

import "context"

// Transactor runs fn so that every repository call made with the context it
// receives commits or rolls back together. fn's error is returned unchanged
// after rollback.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransactorFunc adapts a function to Transactor.
type TransactorFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// InTransaction calls f.
func (f TransactorFunc) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}
