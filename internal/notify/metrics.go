// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SocialHub Contributors

package notify

import "github.com/prometheus/client_golang/prometheus"

// Status values for notification metrics.
const (
	StatusQueued  = "queued"
	StatusSent    = "sent"
	StatusRetried = "retried"
	StatusFailed  = "failed"
	StatusDropped = "dropped"
)

// Notifications counts notification lifecycle events.
// Use RegisterMetrics to register this with a Prometheus registry.
var Notifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "identity_notifications_total",
		Help: "Total number of notification events by kind and status",
	},
	[]string{"kind", "status"},
)

// RegisterMetrics registers notify package metrics with reg.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(Notifications)
}

func record(kind Kind, status string) {
	Notifications.WithLabelValues(kind.String(), status).Inc()
}
