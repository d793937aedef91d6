// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/socialhub/identity/internal/command"
	"github.com/socialhub/identity/internal/config"
	"github.com/socialhub/identity/internal/httpapi"
	"github.com/socialhub/identity/internal/logging"
	"github.com/socialhub/identity/internal/maintenance"
	"github.com/socialhub/identity/internal/notify"
	"github.com/socialhub/identity/internal/observability"
)

const shutdownTimeout = 15 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the identity API",
		Long: `Start the HTTP API, the metrics and health listener, the notification
outbox and the hourly purge of expired tokens and sessions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.SetDefault(logging.Options{
				Service: "identity",
				Version: version,
				Format:  cfg.Log.Format,
				Level:   cfg.Log.Level,
			})
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger, nil)
		},
	}
}

// runServe runs until ctx is cancelled or a listener fails. started, when
// set, receives the bound API address once requests are accepted.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, started func(apiAddr string)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting identity service",
		"http_addr", cfg.HTTP.Addr,
		"database_driver", cfg.Database.Driver,
		"outbox", cfg.Notify.Outbox,
		"avatar_store", cfg.Avatar.Store,
	)

	var ready atomic.Bool
	var obsServer *observability.Server
	opts := appOptions{}
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, version, ready.Load)
		reg := obsServer.Registry()
		command.RegisterMetrics(reg)
		notify.RegisterMetrics(reg)
		maintenance.RegisterMetrics(reg)
		opts.registry = reg
		opts.requests = obsServer.Metrics()
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	a, err := newApp(ctx, cfg, st, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if err := a.Close(closeCtx); err != nil {
			logger.Warn("error draining notifications", "error", err)
		}
	}()

	if cfg.Maintenance.PurgeSchedule != "" {
		sched, err := maintenance.New(maintenance.Config{Schedule: cfg.Maintenance.PurgeSchedule}, purgeTasks(a.services), logger)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			if err := sched.Stop(stopCtx); err != nil {
				logger.Warn("error stopping maintenance", "error", err)
			}
		}()
	}

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, logger, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	apiServer := httpapi.NewServer(cfg.HTTP.Addr, a.handler, logger)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		stopObservability(obsServer, logger)
		return err
	}
	go monitorServerErrors(ctx, cancel, logger, apiErrCh, "http")

	ready.Store(true)
	if started != nil {
		started(apiServer.Addr())
	}

	<-ctx.Done()
	logger.Info("shutting down")
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping http server", "error", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return nil
}

func stopObservability(s *observability.Server, logger *slog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when the server behind errCh fails. It
// returns when the channel closes or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
