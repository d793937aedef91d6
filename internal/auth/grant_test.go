// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package auth_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/pkg/errutil"
)

var testSecret = []byte(strings.Repeat("s", auth.MinSecretLength))

func TestNewGrantSigner_ShortSecret(t *testing.T) {
	_, err := auth.NewGrantSigner([]byte("short"), "identity")
	errutil.AssertErrorCode(t, err, "GRANT_SECRET_INVALID")
}

func TestGrantSigner_RoundTrip(t *testing.T) {
	signer, err := auth.NewGrantSigner(testSecret, "identity")
	require.NoError(t, err)

	now := time.Now().Truncate(time.Second)
	session, err := auth.NewSession(ulid.Make(), now, time.Hour)
	require.NoError(t, err)

	grant, err := signer.Sign(session)
	require.NoError(t, err)
	assert.Equal(t, session.AccountID, grant.AccountID)
	assert.Equal(t, session.ID, grant.SessionID)
	assert.Equal(t, session.ExpiresAt, grant.ExpiresAt)

	p, err := signer.Parse(grant.Token, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{AccountID: session.AccountID, SessionID: session.ID}, p)

	_, err = signer.Parse(grant.Token, now.Add(2*time.Hour))
	errutil.AssertErrorCode(t, err, auth.CodeUnauthenticated)
	errutil.AssertErrorContext(t, err, "reason", "expired")
}

func TestGrantSigner_RejectsForeignTokens(t *testing.T) {
	signer, err := auth.NewGrantSigner(testSecret, "identity")
	require.NoError(t, err)
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Issuer:    "identity",
		Subject:   ulid.Make().String(),
		ID:        ulid.Make().String(),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	otherKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.Repeat("x", 32)))
	require.NoError(t, err)
	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	wrongIssuer := claims
	wrongIssuer.Issuer = "elsewhere"
	otherIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, wrongIssuer).SignedString(testSecret)
	require.NoError(t, err)

	badSubject := claims
	badSubject.Subject = "not-a-ulid"
	badSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, badSubject).SignedString(testSecret)
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not.a.jwt",
		"other key":    otherKey,
		"alg none":     noneAlg,
		"other issuer": otherIssuer,
		"bad subject":  badSub,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := signer.Parse(tok, now)
			errutil.AssertErrorCode(t, err, auth.CodeUnauthenticated)
		})
	}
}

func TestNewSession_Validation(t *testing.T) {
	_, err := auth.NewSession(ulid.ULID{}, time.Now(), time.Hour)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_ACCOUNT")

	_, err = auth.NewSession(ulid.Make(), time.Now(), 0)
	errutil.AssertErrorCode(t, err, "SESSION_INVALID_EXPIRY")
}
