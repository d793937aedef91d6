// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

// Package maintenance runs the periodic cleanup of expired verification
// tokens and sessions.
package maintenance

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/samber/oops"

	"github.com/socialhub/identity/pkg/errutil"
)

// DefaultSchedule runs the purge at minute 17 of every hour.
const DefaultSchedule = "17 * * * *"

// DefaultTimeout bounds a single purge run.
const DefaultTimeout = 2 * time.Minute

// Task deletes expired rows and reports how many it removed.
type Task struct {
	Name  string
	Purge func(ctx context.Context) (int64, error)
}

// Config configures a Scheduler.
type Config struct {
	// Schedule is a standard five-field cron expression or a descriptor
	// such as "@hourly". Empty means DefaultSchedule.
	Schedule string
	// Timeout bounds a run. Zero means DefaultTimeout.
	Timeout time.Duration
}

var purged = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_maintenance_purged_total",
		Help: "Rows removed by maintenance tasks",
	},
	[]string{"task"},
)

var failures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_maintenance_failures_total",
		Help: "Failed maintenance task runs",
	},
	[]string{"task"},
)

// RegisterMetrics registers the maintenance counters with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(purged, failures)
}

// Scheduler runs tasks on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron    *cron.Cron
	tasks   []Task
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	started bool
}

// New creates a Scheduler. It fails with INVALID_SCHEDULE when the cron
// expression does not parse.
func New(cfg Config, tasks []Task, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Scheduler{
		tasks:   tasks,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	cl := cronLogger{logger: logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, s.runScheduled); err != nil {
		return nil, oops.Code("INVALID_SCHEDULE").With("schedule", cfg.Schedule).Wrap(err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.logger.Info("maintenance scheduler started", "next_run", s.cron.Entries()[0].Next)
}

// Stop stops the schedule and waits for a running purge to finish or for
// ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.mu.Unlock()

	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return oops.Code("MAINTENANCE_STOP_TIMEOUT").Wrap(ctx.Err())
	}
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	// Failures are logged and counted inside RunOnce.
	_, _ = s.RunOnce(ctx)
}

// RunOnce runs every task once, in order, and returns the rows each
// removed. A failing task does not stop the ones after it.
func (s *Scheduler) RunOnce(ctx context.Context) (map[string]int64, error) {
	return Run(ctx, s.tasks, s.logger)
}

// Run executes tasks once without a scheduler.
func Run(ctx context.Context, tasks []Task, logger *slog.Logger) (map[string]int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	removed := make(map[string]int64, len(tasks))
	var errs []error
	for _, task := range tasks {
		start := time.Now()
		n, err := task.Purge(ctx)
		if err != nil {
			failures.WithLabelValues(task.Name).Inc()
			errutil.LogError(ctx, logger, "maintenance task failed", err, "task", task.Name)
			errs = append(errs, oops.With("task", task.Name).Wrap(err))
			continue
		}
		removed[task.Name] = n
		purged.WithLabelValues(task.Name).Add(float64(n))
		logger.InfoContext(ctx, "maintenance task finished",
			"task", task.Name,
			"removed", n,
			"duration", time.Since(start))
	}
	return removed, errors.Join(errs...)
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
