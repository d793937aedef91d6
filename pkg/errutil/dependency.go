// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package errutil

import (
	"context"
	"errors"

	"github.com/samber/oops"
)

// CodeDependencyFailure marks a retryable failure of a backing service
// (database, object store, queue, mail relay).
const CodeDependencyFailure = "DEPENDENCY_FAILURE"

// Dependency wraps err as a DEPENDENCY_FAILURE raised by operation.
// An error that already carries a code keeps it.
func Dependency(err error, operation string) error {
	if err == nil {
		return nil
	}
	if Code(err) != "" {
		return oops.With("operation", operation).Wrap(err)
	}
	return oops.Code(CodeDependencyFailure).
		With("operation", operation).
		Wrap(err)
}

// IsRetryable reports whether err is worth retrying: a dependency failure
// or a deadline that expired before the dependency answered.
func IsRetryable(err error) bool {
	return HasCode(err, CodeDependencyFailure) || errors.Is(err, context.DeadlineExceeded)
}
