// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package memory implements the identity repositories in process memory.
//
// Each repository guards its maps with its own mutex and never holds it
// while calling back into caller code. Transactions are undo journals: a
// failed InTransaction reverts the writes made through its context, but
// other goroutines may observe those writes before the revert. The
// compare-and-swap operations (token consumption, versioned account updates,
// email uniqueness) are atomic regardless.
package memory
