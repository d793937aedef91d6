// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package account_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/pkg/errutil"
)

var fastParams = account.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestArgon2idHasher_Hash(t *testing.T) {
	hasher := account.NewArgon2idHasherWithParams(fastParams)

	t.Run("produces PHC formatted hash", func(t *testing.T) {
		hash, err := hasher.Hash("P@ss1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))
		assert.Len(t, strings.Split(hash, "$"), 6)
	})

	t.Run("same password produces different hashes", func(t *testing.T) {
		h1, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		h2, err := hasher.Hash("samepassword")
		require.NoError(t, err)
		assert.NotEqual(t, h1, h2)
	})

	t.Run("rejects empty password", func(t *testing.T) {
		_, err := hasher.Hash("")
		errutil.AssertErrorCode(t, err, "ACCOUNT_EMPTY_PASSWORD")
	})
}

func TestArgon2idHasher_Verify(t *testing.T) {
	hasher := account.NewArgon2idHasherWithParams(fastParams)
	hash, err := hasher.Hash("correct-P@ss1")
	require.NoError(t, err)

	t.Run("correct password verifies", func(t *testing.T) {
		ok, err := hasher.Verify("correct-P@ss1", hash)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("wrong password fails without error", func(t *testing.T) {
		ok, err := hasher.Verify("wrong-P@ss1", hash)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("verifies hashes made with other parameters", func(t *testing.T) {
		other := account.NewArgon2idHasherWithParams(account.Argon2Params{Time: 2, Memory: 2048, Threads: 2, SaltLen: 8, KeyLen: 16})
		h, err := other.Hash("P@ss1")
		require.NoError(t, err)

		ok, err := hasher.Verify("P@ss1", h)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	malformed := []struct {
		name string
		hash string
	}{
		{"wrong part count", "$argon2id$v=19$m=1024"},
		{"other algorithm", "$bcrypt$v=19$m=1024,t=1,p=1$AAAA$AAAA"},
		{"bad params", "$argon2id$v=19$m=x,t=1,p=1$AAAA$AAAA"},
		{"zero threads", "$argon2id$v=19$m=1024,t=1,p=0$AAAA$AAAA"},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$AAAA"},
		{"empty key", "$argon2id$v=19$m=1024,t=1,p=1$AAAA$"},
	}
	for _, tt := range malformed {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			ok, err := hasher.Verify("P@ss1", tt.hash)
			assert.False(t, ok)
			errutil.AssertErrorCode(t, err, "ACCOUNT_INVALID_HASH")
		})
	}
}

func TestArgon2idHasher_NeedsUpgrade(t *testing.T) {
	hasher := account.NewArgon2idHasherWithParams(fastParams)
	current, err := hasher.Hash("P@ss1")
	require.NoError(t, err)

	weaker := account.NewArgon2idHasherWithParams(account.Argon2Params{Time: 1, Memory: 512, Threads: 1, SaltLen: 16, KeyLen: 32})
	old, err := weaker.Hash("P@ss1")
	require.NoError(t, err)

	assert.False(t, hasher.NeedsUpgrade(current))
	assert.True(t, hasher.NeedsUpgrade(old))
	assert.True(t, hasher.NeedsUpgrade("$2a$10$legacybcrypt"))
}
