// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/command"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/notify/notifytest"
	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/internal/token"
	"github.com/socialhub/identity/pkg/errutil"
)

var fastHasher = account.NewArgon2idHasherWithParams(account.Argon2Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32})

var testSecret = bytes.Repeat([]byte("k"), auth.MinSecretLength)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	h        *command.Handlers
	accounts account.Repository
	tokens   *token.Service
	auth     *auth.Service
	outbox   *notifytest.Outbox
	avatars  *avatar.MemoryStore
	clock    *clock
	logs     *bytes.Buffer
}

type fixtureConfig struct {
	accounts account.Repository
	opts     []command.Option
	noAvatar bool
}

func newFixture(t *testing.T, cfgs ...fixtureConfig) *fixture {
	t.Helper()
	var cfg fixtureConfig
	if len(cfgs) > 0 {
		cfg = cfgs[0]
	}

	f := &fixture{
		accounts: cfg.accounts,
		outbox:   &notifytest.Outbox{},
		avatars:  avatar.NewMemoryStore(),
		clock:    &clock{now: time.Now().UTC().Truncate(time.Second)},
		logs:     &bytes.Buffer{},
	}
	if f.accounts == nil {
		f.accounts = memory.NewAccountRepository()
	}
	logger := slog.New(slog.NewJSONHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var err error
	f.tokens, err = token.NewServiceWithLogger(memory.NewTokenRepository(), token.DefaultPolicy(), logger,
		token.WithClock(f.clock.Now))
	require.NoError(t, err)

	signer, err := auth.NewGrantSigner(testSecret, "identity-test")
	require.NoError(t, err)
	tx := memory.NewTransactor()
	f.auth, err = auth.NewServiceWithLogger(f.accounts, memory.NewSessionRepository(), fastHasher, signer, logger,
		auth.WithClock(f.clock.Now),
		auth.WithTransactor(tx))
	require.NoError(t, err)

	links, err := notify.NewLinks(notify.LinksConfig{
		APIURL:            "https://api.example.com",
		ClientURL:         "https://app.example.com",
		AllowedReturnURLs: []string{"https://app.example.com/reset"},
	})
	require.NoError(t, err)
	gateway, err := notify.NewGateway(f.outbox, links, logger)
	require.NoError(t, err)

	deps := command.Deps{
		Accounts: f.accounts,
		Hasher:   fastHasher,
		Tokens:   f.tokens,
		Auth:     f.auth,
		Tx:       tx,
		Notifier: gateway,
		Logger:   logger,
	}
	if !cfg.noAvatar {
		deps.Avatars = f.avatars
	}
	opts := append([]command.Option{
		command.WithClock(f.clock.Now),
		command.WithConflictRetries(command.DefaultConflictRetries, time.Millisecond),
	}, cfg.opts...)
	f.h, err = command.NewHandlers(deps, opts...)
	require.NoError(t, err)
	return f
}

// register creates an account through the Register handler and returns it
// with the confirmation token that was mailed.
func (f *fixture) register(t *testing.T, email, password string) (*command.RegisterResult, string) {
	t.Helper()
	res, err := f.h.Register(context.Background(), command.RegisterRequest{
		Email:       email,
		Password:    password,
		DisplayName: "Alice",
	})
	require.NoError(t, err)
	return res, f.lastToken(t, notify.KindConfirmEmail, res.Email)
}

// registerConfirmed registers and confirms an account.
func (f *fixture) registerConfirmed(t *testing.T, email, password string) ulid.ULID {
	t.Helper()
	res, tok := f.register(t, email, password)
	require.NoError(t, f.h.ConfirmEmail(context.Background(), res.AccountID.String(), tok))
	return res.AccountID
}

func (f *fixture) lastToken(t *testing.T, kind notify.Kind, to string) string {
	t.Helper()
	msg, ok := f.outbox.Last(kind, to)
	require.True(t, ok, "no %s message to %s", kind, to)
	tok := notifytest.Token(msg)
	require.NotEmpty(t, tok)
	return tok
}

func (f *fixture) account(t *testing.T, id ulid.ULID) *account.Account {
	t.Helper()
	acc, err := f.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func TestNewHandlers_RequiresDependencies(t *testing.T) {
	f := newFixture(t)
	full := command.Deps{
		Accounts: f.accounts,
		Hasher:   fastHasher,
		Tokens:   f.tokens,
		Auth:     f.auth,
		Tx:       memory.NewTransactor(),
		Notifier: &recordingNotifier{},
	}

	tests := []struct {
		name   string
		mutate func(d *command.Deps)
		want   string
	}{
		{"accounts", func(d *command.Deps) { d.Accounts = nil }, "accounts repository is required"},
		{"hasher", func(d *command.Deps) { d.Hasher = nil }, "password hasher is required"},
		{"tokens", func(d *command.Deps) { d.Tokens = nil }, "token service is required"},
		{"auth", func(d *command.Deps) { d.Auth = nil }, "auth service is required"},
		{"tx", func(d *command.Deps) { d.Tx = nil }, "transactor is required"},
		{"notifier", func(d *command.Deps) { d.Notifier = nil }, "notifier is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			h, err := command.NewHandlers(deps)
			assert.Nil(t, h)
			errutil.AssertErrorCode(t, err, "COMMAND_INVALID")
			assert.ErrorContains(t, err, tt.want)
		})
	}

	h, err := command.NewHandlers(full)
	require.NoError(t, err)
	assert.NotNil(t, h)
}

// recordingNotifier counts notifications without rendering them.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notify.Kind
}

func (n *recordingNotifier) add(kind notify.Kind) notify.Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, kind)
	return notify.DeliveryQueued
}

func (n *recordingNotifier) ConfirmEmail(context.Context, notify.Recipient, string, string, time.Duration) notify.Delivery {
	return n.add(notify.KindConfirmEmail)
}

func (n *recordingNotifier) PasswordReset(context.Context, notify.Recipient, string, string, time.Duration) notify.Delivery {
	return n.add(notify.KindPasswordReset)
}

func (n *recordingNotifier) EmailChange(context.Context, notify.Recipient, string, time.Duration) notify.Delivery {
	return n.add(notify.KindEmailChange)
}

func (n *recordingNotifier) EmailChanged(context.Context, notify.Recipient, string) notify.Delivery {
	return n.add(notify.KindEmailChanged)
}
