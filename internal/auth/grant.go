// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MinSecretLength is the shortest accepted HMAC signing secret.
const MinSecretLength = 32

// Grant is the artifact returned by a successful login.
type Grant struct {
	AccountID ulid.ULID
	SessionID ulid.ULID
	Token     string
	ExpiresAt time.Time
}

// Principal is the identity behind a validated grant.
type Principal struct {
	AccountID ulid.ULID
	SessionID ulid.ULID
}

// GrantSigner signs and verifies session grants as HS256 JWTs.
type GrantSigner struct {
	secret []byte
	issuer string
}

// NewGrantSigner creates a signer. The secret must be at least
// MinSecretLength bytes.
func NewGrantSigner(secret []byte, issuer string) (*GrantSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, oops.Code("GRANT_SECRET_INVALID").
			With("min", MinSecretLength).
			Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	return &GrantSigner{secret: secret, issuer: issuer}, nil
}

// Sign produces the grant for session.
func (g *GrantSigner) Sign(s *Session) (*Grant, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    g.issuer,
		Subject:   s.AccountID.String(),
		ID:        s.ID.String(),
		IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return nil, oops.Code("GRANT_SIGN_FAILED").Wrap(err)
	}
	return &Grant{
		AccountID: s.AccountID,
		SessionID: s.ID,
		Token:     signed,
		ExpiresAt: s.ExpiresAt,
	}, nil
}

// Parse verifies a grant token at now and returns its principal.
func (g *GrantSigner) Parse(token string, now time.Time) (Principal, error) {
	claims := &jwt.RegisteredClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return now }),
	}
	if g.issuer != "" {
		opts = append(opts, jwt.WithIssuer(g.issuer))
	}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	}, opts...)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, jwt.ErrTokenExpired) {
			reason = "expired"
		}
		return Principal{}, unauthenticated(reason)
	}

	accountID, err := ulid.ParseStrict(claims.Subject)
	if err != nil {
		return Principal{}, unauthenticated("bad subject")
	}
	sessionID, err := ulid.ParseStrict(claims.ID)
	if err != nil {
		return Principal{}, unauthenticated("bad session id")
	}
	return Principal{AccountID: accountID, SessionID: sessionID}, nil
}
