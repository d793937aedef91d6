// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package account defines the user account record and the credential store
// contract the rest of the identity service is built on.
//
// # Domain Types
//
// Accounts are created from a Draft with NewAccount, which validates input,
// normalises the email and hashes nothing: callers pass an already hashed
// password. Direct struct initialisation bypasses validation.
//
// # Store Contract
//
// Repository implementations must:
//   - enforce case-insensitive email uniqueness atomically with Create and
//     with any Update that changes Email (CodeEmailTaken)
//   - wrap ErrNotFound for missing accounts
//   - apply Update mutations with optimistic concurrency on Version and
//     report a lost race as CodeConflict
package account
