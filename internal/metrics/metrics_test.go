// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(IngestTotal.WithLabelValues(IngestPartial))
	RecordIngest(IngestPartial)
	RecordIngest(IngestPartial)
	if got := testutil.ToFloat64(IngestTotal.WithLabelValues(IngestPartial)) - before; got != 2 {
		t.Errorf("partial ingests = %v, want 2", got)
	}
}

func TestRecordNotification(t *testing.T) {
	sentBefore := testutil.ToFloat64(NotificationsSent.WithLabelValues("test"))
	failBefore := testutil.ToFloat64(NotificationFailures.WithLabelValues("test"))

	RecordNotification("test", nil)
	RecordNotification("test", errors.New("boom"))
	RecordNotification("test", errors.New("boom"))

	if got := testutil.ToFloat64(NotificationsSent.WithLabelValues("test")) - sentBefore; got != 1 {
		t.Errorf("sent = %v, want 1", got)
	}
	if got := testutil.ToFloat64(NotificationFailures.WithLabelValues("test")) - failBefore; got != 2 {
		t.Errorf("failures = %v, want 2", got)
	}
}

func TestRecordConfirmation(t *testing.T) {
	before := testutil.ToFloat64(AlertsConfirmed.WithLabelValues("confirmed", "false"))
	RecordConfirmation("confirmed", false)
	if got := testutil.ToFloat64(AlertsConfirmed.WithLabelValues("confirmed", "false")) - before; got != 1 {
		t.Errorf("confirmations = %v, want 1", got)
	}
}

func TestRecordCircuitBreakerTransition(t *testing.T) {
	RecordCircuitBreakerTransition("nats", "closed", "open", 2)
	if got := testutil.ToFloat64(CircuitBreakerState.WithLabelValues("nats")); got != 2 {
		t.Errorf("state = %v, want 2", got)
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if got := testutil.ToFloat64(APIActiveRequests); got != before+1 {
		t.Errorf("active = %v, want %v", got, before+1)
	}
	TrackActiveRequest(false)
	if got := testutil.ToFloat64(APIActiveRequests); got != before {
		t.Errorf("active = %v, want %v", got, before)
	}
}

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/telemetry", "200"))
	RecordAPIRequest("POST", "/api/v1/telemetry", "200", 3*time.Millisecond)
	if got := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("POST", "/api/v1/telemetry", "200")) - before; got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
}
