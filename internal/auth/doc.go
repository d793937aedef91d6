// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package auth verifies credentials and manages the login session of an
// account.
//
// # Sessions
//
// An account holds at most one session: Login revokes any previous session
// before creating a new one. The session is handed to the client as a Grant,
// an HS256 JWT whose subject is the account ID and whose jti is the session
// ID. ValidateSession checks the signature first and the session row second,
// so a revoked session is rejected even while its JWT is unexpired.
//
// # Enumeration Resistance
//
// Login returns AUTH_INVALID_CREDENTIALS for both an unknown email and a wrong
// password, and runs a password verification in both cases. Lockout and
// unconfirmed email are only reported once the password has been verified.
package auth
