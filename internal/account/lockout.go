// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package account

import "time"

// Lockout configuration.
const (
	// LockoutThreshold is the number of consecutive failed logins that locks
	// the account.
	LockoutThreshold = 7

	// LockoutDuration is how long a locked account refuses logins.
	LockoutDuration = 15 * time.Minute
)

// IsLocked reports whether the account is locked at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// RecordFailure counts a failed login and locks the account once the
// threshold is reached.
func (a *Account) RecordFailure(now time.Time) {
	a.FailedAttempts++
	if a.FailedAttempts >= LockoutThreshold {
		until := now.Add(LockoutDuration)
		a.LockedUntil = &until
	}
}

// ClearFailures resets the failure counter and any lockout.
func (a *Account) ClearFailures() {
	a.FailedAttempts = 0
	a.LockedUntil = nil
}
