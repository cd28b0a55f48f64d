// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package metrics holds the Prometheus collectors for EdgeWatch. Every
// degraded path (Null scoring, fallthrough, lost persistence or
// notification) has a collector here so it is visible to operators.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest outcomes.
const (
	IngestAccepted        = "accepted"
	IngestPartial         = "partial"
	IngestMalformed       = "malformed"
	IngestUnauthenticated = "unauthenticated"
)

var (
	// Pipeline
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_ingest_total",
			Help: "Telemetry records received, by outcome",
		},
		[]string{"outcome"},
	)

	DevicesTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgewatch_devices_tracked",
			Help: "Devices with a window held in memory",
		},
	)

	WindowEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgewatch_window_evictions_total",
			Help: "Device windows evicted from the bounded registry",
		},
	)

	WindowsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgewatch_windows_scored_total",
			Help: "Full windows passed through the scoring chain",
		},
	)

	// Scoring
	ScoreValue = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgewatch_anomaly_score",
			Help:    "Distribution of anomaly scores",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		},
		[]string{"model_version"},
	)

	ScoringDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "edgewatch_scoring_duration_seconds",
			Help:    "Time spent scoring one window",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	ScoringFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_scoring_fallbacks_total",
			Help: "Scoring variant failures that fell through the chain",
		},
		[]string{"model_version", "reason"},
	)

	ScoringBackendInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgewatch_scoring_backend_info",
			Help: "Primary scoring variant (1 for the active model_version; none means Null scoring)",
		},
		[]string{"model_version"},
	)

	// Alerts
	AlertsRaised = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgewatch_alerts_raised_total",
			Help: "Alerts created by the alert policy",
		},
	)

	AlertsConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_confirmations_total",
			Help: "Operator confirmations recorded",
		},
		[]string{"state", "alert_found"},
	)

	// Side effects
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_persistence_failures_total",
			Help: "Best-effort persistence writes that failed",
		},
		[]string{"operation"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_notifications_sent_total",
			Help: "Alert notifications delivered",
		},
		[]string{"notifier"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_notification_failures_total",
			Help: "Alert notifications that failed",
		},
		[]string{"notifier"},
	)

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgewatch_outbox_pending",
			Help: "Persistence writes waiting in the durable outbox",
		},
	)

	OutboxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_outbox_retries_total",
			Help: "Outbox retry attempts, by result",
		},
		[]string{"result"},
	)

	OutboxDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "edgewatch_outbox_dropped_total",
			Help: "Outbox entries dropped after exhausting retries",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "edgewatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgewatch_api_requests_total",
			Help: "HTTP requests handled",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgewatch_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgewatch_api_active_requests",
			Help: "HTTP requests in flight",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "edgewatch_websocket_connections",
			Help: "Connected alert stream clients",
		},
	)
)

// RecordIngest counts one ingestion outcome.
func RecordIngest(outcome string) {
	IngestTotal.WithLabelValues(outcome).Inc()
}

// RecordScore observes one scored window.
func RecordScore(modelVersion string, value float64) {
	WindowsScored.Inc()
	ScoreValue.WithLabelValues(modelVersion).Observe(value)
}

// RecordPersistenceFailure counts a failed best-effort write.
func RecordPersistenceFailure(operation string) {
	PersistenceFailures.WithLabelValues(operation).Inc()
}

// RecordNotification counts a notification result.
func RecordNotification(notifier string, err error) {
	if err != nil {
		NotificationFailures.WithLabelValues(notifier).Inc()
		return
	}
	NotificationsSent.WithLabelValues(notifier).Inc()
}

// RecordConfirmation counts an operator confirmation.
func RecordConfirmation(state string, alertFound bool) {
	found := "false"
	if alertFound {
		found = "true"
	}
	AlertsConfirmed.WithLabelValues(state, found).Inc()
}

// RecordCircuitBreakerTransition records a breaker state change. States use
// the gobreaker numbering (0 closed, 1 half-open, 2 open).
func RecordCircuitBreakerTransition(name, from, to string, toState int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(toState))
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest moves the in-flight gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}
