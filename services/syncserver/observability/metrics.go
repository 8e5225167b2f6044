// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the sync server.
//
// # Description
//
// Metrics cover the broadcast path:
//   - Connected sessions gauge
//   - Published events by kind
//   - Dropped deliveries by reason
//   - Fan-out width histogram
//   - Rejected websocket upgrades
//   - Task mutations by operation and outcome
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const (
	metricsNamespace = "aleutian"
	syncSubsystem    = "sync"
)

// DropReason labels why a delivery to a session was abandoned.
type DropReason string

const (
	// DropQueueFull means the session's outbound queue was saturated.
	DropQueueFull DropReason = "queue_full"

	// DropWriteError means the socket write failed.
	DropWriteError DropReason = "write_error"

	// DropClosed means the session was already closing.
	DropClosed DropReason = "closed"
)

// SyncMetrics holds the Prometheus metrics for change distribution.
//
// # Fields
//
//   - SessionsConnected: Gauge of attached sessions
//   - EventsPublished: Counter of events handed to the hub, by kind
//   - DeliveriesDropped: Counter of abandoned deliveries, by reason
//   - FanoutSessions: Histogram of sessions targeted per publish
//   - UpgradesRejected: Counter of websocket upgrades refused by the limiter
//   - MutationsTotal: Counter of task mutations by operation and status
//
// # Thread Safety
//
// All operations are thread-safe.
type SyncMetrics struct {
	SessionsConnected prometheus.Gauge
	EventsPublished   *prometheus.CounterVec
	DeliveriesDropped *prometheus.CounterVec
	FanoutSessions    prometheus.Histogram
	UpgradesRejected  prometheus.Counter
	MutationsTotal    *prometheus.CounterVec
}

// NewSyncMetrics creates and registers the metrics on reg.
//
// # Inputs
//
//   - reg: Target registerer. Nil means prometheus.DefaultRegisterer.
//
// # Outputs
//
//   - *SyncMetrics: The registered metrics.
//
// # Limitations
//
//   - Panics on duplicate registration against the same registerer.
//     Tests should pass a fresh prometheus.NewRegistry().
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &SyncMetrics{
		SessionsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "sessions_connected",
			Help:      "Number of websocket sessions currently attached to the hub",
		}),
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: syncSubsystem,
				Name:      "events_published_total",
				Help:      "Total change events published to the hub by kind",
			},
			[]string{"kind"},
		),
		DeliveriesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: syncSubsystem,
				Name:      "deliveries_dropped_total",
				Help:      "Total deliveries abandoned, by reason. Each drop disconnects the session",
			},
			[]string{"reason"},
		),
		FanoutSessions: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "fanout_sessions",
			Help:      "Number of sessions targeted by one publish",
			Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 250, 1000},
		}),
		UpgradesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: syncSubsystem,
			Name:      "upgrades_rejected_total",
			Help:      "Websocket upgrades refused by the rate limiter",
		}),
		MutationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: syncSubsystem,
				Name:      "mutations_total",
				Help:      "Task mutations by operation and status",
			},
			[]string{"op", "status"},
		),
	}
}

// =============================================================================
// Recording Helpers
// =============================================================================

// SessionAttached increments the connected gauge.
func (m *SyncMetrics) SessionAttached() {
	if m == nil {
		return
	}
	m.SessionsConnected.Inc()
}

// SessionDetached decrements the connected gauge.
func (m *SyncMetrics) SessionDetached() {
	if m == nil {
		return
	}
	m.SessionsConnected.Dec()
}

// RecordPublish records one publish of the given kind to fanout sessions.
func (m *SyncMetrics) RecordPublish(kind string, fanout int) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(kind).Inc()
	m.FanoutSessions.Observe(float64(fanout))
}

// RecordDrop records an abandoned delivery.
func (m *SyncMetrics) RecordDrop(reason DropReason) {
	if m == nil {
		return
	}
	m.DeliveriesDropped.WithLabelValues(string(reason)).Inc()
}

// RecordUpgradeRejected records a refused websocket upgrade.
func (m *SyncMetrics) RecordUpgradeRejected() {
	if m == nil {
		return
	}
	m.UpgradesRejected.Inc()
}

// RecordMutation records a task mutation outcome.
//
// # Inputs
//
//   - op: create, update, status or delete.
//   - success: Whether the store committed it.
func (m *SyncMetrics) RecordMutation(op string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.MutationsTotal.WithLabelValues(op, status).Inc()
}
