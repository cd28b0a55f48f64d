// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package detection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func testAlert() *Alert {
	return &Alert{
		ID:           uuid.New(),
		DeviceID:     "unit_a",
		Timestamp:    12,
		Score:        0.9,
		ModelVersion: "iforest-default",
		Confirmation: StateUnconfirmed,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestWebhookNotifier_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		config   WebhookConfig
		expected bool
	}{
		{"enabled with URL", WebhookConfig{WebhookURL: "https://example.com/hook", Enabled: true}, true},
		{"disabled", WebhookConfig{WebhookURL: "https://example.com/hook"}, false},
		{"enabled but no URL", WebhookConfig{Enabled: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewWebhookNotifier(tt.config)
			if got := n.Enabled(); got != tt.expected {
				t.Errorf("Enabled() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestWebhookNotifier_Send(t *testing.T) {
	var received WebhookPayload
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{
		WebhookURL: server.URL,
		Headers:    map[string]string{"Authorization": "Bearer token"},
		Enabled:    true,
	})
	alert := testAlert()
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if auth != "Bearer token" {
		t.Errorf("Authorization = %q", auth)
	}
	if received.EventType != "anomaly_alert" || received.Source != "edgewatch" {
		t.Errorf("payload type/source = %q/%q", received.EventType, received.Source)
	}
	if received.Event.DeviceID != "unit_a" || received.Event.Score != 0.9 || received.Event.AlertID != alert.ID.String() {
		t.Errorf("payload event = %+v", received.Event)
	}
}

func TestWebhookNotifier_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: server.URL, Enabled: true})
	err := n.Send(context.Background(), testAlert())
	if !errors.Is(err, ErrNotification) {
		t.Errorf("Send() error = %v, want ErrNotification", err)
	}
}

func TestWebhookNotifier_DisabledIsNoop(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: server.URL, Enabled: true})
	n.SetEnabled(false)
	if err := n.Send(context.Background(), testAlert()); err != nil {
		t.Errorf("Send() error = %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestWebhookNotifier_RateLimitRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	n := NewWebhookNotifier(WebhookConfig{WebhookURL: server.URL, Enabled: true, RateLimitMs: 60000})
	if err := n.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := n.Send(ctx, testAlert()); err == nil {
		t.Error("second Send() within rate window = nil error, want context error")
	}
}
