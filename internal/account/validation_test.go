// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package account_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/pkg/errutil"
)

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@x.com", account.NormalizeEmail("  A@X.Com "))
}

func TestValidateEmail(t *testing.T) {
	valid := []string{"a@x.com", "first.last+tag@sub.example.org"}
	for _, email := range valid {
		assert.NoError(t, account.ValidateEmail(email), email)
	}

	invalid := []string{
		"",
		"plainaddress",
		"a@",
		"@x.com",
		"a@localhost",
		"Alice <a@x.com>",
		strings.Repeat("a", 250) + "@x.com",
	}
	for _, email := range invalid {
		t.Run(email, func(t *testing.T) {
			err := account.ValidateEmail(email)
			errutil.AssertErrorCode(t, err, account.CodeInvalidEmail)
			errutil.AssertErrorContext(t, err, "field", "email")
		})
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"minimal policy password", "P@ss1", false},
		{"longer password", "NewP@ss1", false},
		{"too short", "P@s1", true},
		{"too long", "P@ss1" + strings.Repeat("a", account.MaxPasswordLength), true},
		{"no uppercase", "p@ss1", true},
		{"no lowercase", "P@SS1", true},
		{"no digit", "P@sss", true},
		{"no symbol", "Pass1", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := account.ValidatePassword(tt.password)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, account.CodeInvalidPassword)
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	assert.NoError(t, account.ValidateDisplayName("Ada Lovelace"))
	assert.NoError(t, account.ValidateDisplayName(strings.Repeat("é", account.MaxDisplayNameLength)))

	for _, name := range []string{"", strings.Repeat("x", account.MaxDisplayNameLength+1), "bad\nname"} {
		errutil.AssertErrorCode(t, account.ValidateDisplayName(name), account.CodeInvalidDisplayName)
	}
}
