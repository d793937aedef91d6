// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package command

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/socialhub/identity/pkg/errutil"
)

// Status values for command execution metrics. Failures carrying a code are
// recorded under the lower-cased code.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CommandExecutions is the counter for command executions.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandExecutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_command_executions_total",
		Help: "Total number of account command executions",
	},
	[]string{"command", "status"},
)

// CommandDuration is the histogram for command execution duration.
// Use RegisterMetrics to register this with a Prometheus registry.
var CommandDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "identity_command_duration_seconds",
		Help:    "Account command duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"command"},
)

// RegisterMetrics registers command package metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(CommandExecutions)
	reg.MustRegister(CommandDuration)
}

// metricsRecorder tracks one command execution.
type metricsRecorder struct {
	startTime time.Time
	command   string
}

func newMetricsRecorder(command string) *metricsRecorder {
	return &metricsRecorder{startTime: time.Now(), command: command}
}

func (m *metricsRecorder) record(err error) {
	CommandExecutions.WithLabelValues(m.command, statusOf(err)).Inc()
	CommandDuration.WithLabelValues(m.command).Observe(time.Since(m.startTime).Seconds())
}

func statusOf(err error) string {
	if err == nil {
		return StatusSuccess
	}
	if code := errutil.Code(err); code != "" {
		return strings.ToLower(code)
	}
	return StatusError
}
