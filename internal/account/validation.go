// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package account

import (
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Field limits.
const (
	MaxEmailLength       = 254
	MinPasswordLength    = 5
	MaxPasswordLength    = 128
	MaxDisplayNameLength = 64
)

// NormalizeEmail trims surrounding whitespace and lowercases the address.
// Emails are compared and stored in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeDisplayName trims surrounding whitespace.
func NormalizeDisplayName(name string) string {
	return strings.TrimSpace(name)
}

// ValidateEmail checks that email is a single bare address.
func ValidateEmail(email string) error {
	if email == "" {
		return fieldError(CodeInvalidEmail, "email", "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return fieldError(CodeInvalidEmail, "email", "email must be at most %d characters", MaxEmailLength)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fieldError(CodeInvalidEmail, "email", "email is not a valid address")
	}
	at := strings.LastIndexByte(email, '@')
	if !strings.Contains(email[at+1:], ".") {
		return fieldError(CodeInvalidEmail, "email", "email domain must contain a dot")
	}
	return nil
}

// ValidatePassword enforces the password policy: length bounds and at least
// one uppercase letter, lowercase letter, digit and symbol.
func ValidatePassword(password string) error {
	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength {
		return fieldError(CodeInvalidPassword, "password", "password must be at least %d characters", MinPasswordLength)
	}
	if n > MaxPasswordLength {
		return fieldError(CodeInvalidPassword, "password", "password must be at most %d characters", MaxPasswordLength)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	switch {
	case !upper:
		return fieldError(CodeInvalidPassword, "password", "password must contain an uppercase letter")
	case !lower:
		return fieldError(CodeInvalidPassword, "password", "password must contain a lowercase letter")
	case !digit:
		return fieldError(CodeInvalidPassword, "password", "password must contain a digit")
	case !symbol:
		return fieldError(CodeInvalidPassword, "password", "password must contain a symbol")
	}
	return nil
}

// ValidateDisplayName checks length and rejects control characters.
func ValidateDisplayName(name string) error {
	if name == "" {
		return fieldError(CodeInvalidDisplayName, "displayName", "display name cannot be empty")
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLength {
		return fieldError(CodeInvalidDisplayName, "displayName", "display name must be at most %d characters", MaxDisplayNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fieldError(CodeInvalidDisplayName, "displayName", "display name cannot contain control characters")
		}
	}
	return nil
}

func fieldError(code, field, format string, args ...any) error {
	return oops.Code(code).
		With("field", field).
		Errorf(format, args...)
}
