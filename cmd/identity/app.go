// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/socialhub/identity/internal/account"
	"github.com/socialhub/identity/internal/auth"
	"github.com/socialhub/identity/internal/avatar"
	"github.com/socialhub/identity/internal/command"
	"github.com/socialhub/identity/internal/config"
	"github.com/socialhub/identity/internal/httpapi"
	"github.com/socialhub/identity/internal/maintenance"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/store"
	"github.com/socialhub/identity/internal/store/memory"
	"github.com/socialhub/identity/internal/store/postgres"
	"github.com/socialhub/identity/internal/token"
)

// stores is the persistence a process runs on.
type stores struct {
	accounts account.Repository
	tokens   token.Repository
	sessions auth.SessionRepository
	tx       store.Transactor
	close    func()
}

// openStores connects the configured backend. Postgres is migrated first
// when database.auto_migrate is set.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("using in-memory store; all accounts are lost on exit")
		return &stores{
			accounts: memory.NewAccountRepository(),
			tokens:   memory.NewTokenRepository(),
			sessions: memory.NewSessionRepository(),
			tx:       memory.NewTransactor(),
			close:    func() {},
		}, nil
	}

	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database.URL, logger); err != nil {
			return nil, err
		}
	}

	pool, err := postgres.Connect(ctx, cfg.Database.URL, postgres.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime.Std(),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")
	return &stores{
		accounts: postgres.NewAccountRepository(pool),
		tokens:   postgres.NewTokenRepository(pool),
		sessions: postgres.NewSessionRepository(pool),
		tx:       postgres.NewTransactor(pool),
		close:    pool.Close,
	}, nil
}

func migrateUp(url string, logger *slog.Logger) error {
	m, err := postgres.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()
	pending, err := m.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	logger.Info("applying migrations", "pending", len(pending))
	return m.Up()
}

// services are the domain services built on top of the stores.
type services struct {
	tokens *token.Service
	auth   *auth.Service
}

func newServices(cfg *config.Config, st *stores, hasher account.PasswordHasher, logger *slog.Logger) (*services, error) {
	tokens, err := token.NewServiceWithLogger(st.tokens, token.Policy{
		ConfirmationTTL: cfg.Tokens.ConfirmationTTL.Std(),
		ResetTTL:        cfg.Tokens.ResetTTL.Std(),
		EmailChangeTTL:  cfg.Tokens.EmailChangeTTL.Std(),
		Retention:       cfg.Tokens.Retention.Std(),
	}, logger)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewGrantSigner([]byte(cfg.Session.Secret), cfg.Session.Issuer)
	if err != nil {
		return nil, err
	}
	authSvc, err := auth.NewServiceWithLogger(st.accounts, st.sessions, hasher, signer, logger,
		auth.WithSessionTTL(cfg.Session.TTL.Std()),
		auth.WithTransactor(st.tx))
	if err != nil {
		return nil, err
	}
	return &services{tokens: tokens, auth: authSvc}, nil
}

// purgeTasks lists the expired-row cleanups.
func purgeTasks(svc *services) []maintenance.Task {
	return []maintenance.Task{
		{Name: "tokens", Purge: svc.tokens.PurgeExpired},
		{Name: "sessions", Purge: svc.auth.PurgeExpiredSessions},
	}
}

// app is the fully wired API process.
type app struct {
	handler  http.Handler
	services *services
	limiter  *httpapi.RateLimiter
	closers  []func(ctx context.Context) error
}

// appOptions injects collaborators tests replace.
type appOptions struct {
	registry prometheus.Registerer
	requests httpapi.RequestObserver
	// sender replaces the configured email transport.
	sender notify.Sender
	hasher account.PasswordHasher
}

// newApp builds every component the API needs from cfg.
func newApp(ctx context.Context, cfg *config.Config, st *stores, logger *slog.Logger, opts appOptions) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	hasher := opts.hasher
	if hasher == nil {
		hasher = account.NewArgon2idHasher()
	}
	svc, err := newServices(cfg, st, hasher, logger)
	if err != nil {
		return nil, err
	}
	a.services = svc

	outbox, err := a.newOutbox(ctx, cfg, opts.sender, logger)
	if err != nil {
		return nil, err
	}
	links, err := notify.NewLinks(notify.LinksConfig{
		APIURL:             cfg.Links.APIURL,
		ClientURL:          cfg.Links.ClientURL,
		ConfirmRedirectURL: cfg.Links.ConfirmRedirectURL,
		AllowedReturnURLs:  cfg.Links.AllowedReturnURLs,
	})
	if err != nil {
		return nil, err
	}
	gateway, err := notify.NewGateway(outbox, links, logger)
	if err != nil {
		return nil, err
	}

	avatars, err := newAvatarStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	handlers, err := command.NewHandlers(command.Deps{
		Accounts: st.accounts,
		Hasher:   hasher,
		Tokens:   svc.tokens,
		Auth:     svc.auth,
		Tx:       st.tx,
		Notifier: gateway,
		Avatars:  avatars,
		Logger:   logger,
	},
		command.WithAutoLogin(cfg.Registration.AutoLogin),
		command.WithAvatarMaxBytes(int(cfg.Avatar.MaxBytes)),
	)
	if err != nil {
		return nil, err
	}

	limiterCfg := httpapi.RateLimiterConfig{
		BurstCapacity: cfg.HTTP.RateLimit.Burst,
		SustainedRate: cfg.HTTP.RateLimit.Rate,
	}
	if opts.registry != nil {
		a.limiter = httpapi.NewRateLimiterWithRegistry(limiterCfg, opts.registry)
	} else {
		a.limiter = httpapi.NewRateLimiter(limiterCfg)
	}

	a.handler = httpapi.NewRouter(httpapi.RouterConfig{
		ConfirmRedirect: links.ConfirmRedirect(),
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		AvatarMaxBytes:  cfg.Avatar.MaxBytes,
		TrustProxy:      cfg.HTTP.TrustProxy,
		Limiter:         a.limiter,
		Requests:        opts.requests,
		Logger:          logger,
	}, handlers, svc.auth)

	ok = true
	return a, nil
}

func (a *app) newOutbox(ctx context.Context, cfg *config.Config, sender notify.Sender, logger *slog.Logger) (notify.Outbox, error) {
	if sender == nil {
		var err error
		if sender, err = newSender(cfg, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Notify.Outbox == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		outbox, err := notify.NewRedisOutbox(client, sender, notify.RedisOutboxConfig{
			Stream:     cfg.Redis.Stream,
			Group:      cfg.Redis.Group,
			Workers:    cfg.Notify.Workers,
			MaxRetries: int64(cfg.Notify.MaxRetries),
		}, logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if err := outbox.Start(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, outbox.Close, func(context.Context) error { return client.Close() })
		return outbox, nil
	}

	outbox, err := notify.NewMemoryOutbox(sender, notify.MemoryOutboxConfig{
		Workers:    cfg.Notify.Workers,
		MaxRetries: uint64(max(cfg.Notify.MaxRetries, 0)),
	}, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, outbox.Close)
	return outbox, nil
}

func newSender(cfg *config.Config, logger *slog.Logger) (notify.Sender, error) {
	if cfg.Notify.Sender == "smtp" {
		return notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout.Std(),
		})
	}
	return notify.NewLogSender(logger), nil
}

// newAvatarStore returns nil when avatars are disabled.
func newAvatarStore(ctx context.Context, cfg *config.Config) (avatar.Store, error) {
	switch cfg.Avatar.Store {
	case "minio":
		s, err := avatar.NewMinIOStore(avatar.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
			Region:    cfg.MinIO.Region,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return avatar.NewMemoryStore(), nil
	default:
		return nil, nil
	}
}

// Close drains the outbox and stops background workers.
func (a *app) Close(ctx context.Context) error {
	if a.limiter != nil {
		a.limiter.Close()
	}
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return oops.Code("SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}
