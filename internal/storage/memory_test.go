// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/edgewatch/internal/config"
	"github.com/tomtom215/edgewatch/internal/detection"
)

func newAlert(device string, ts int64, score float64) *detection.Alert {
	return &detection.Alert{
		ID:           uuid.New(),
		DeviceID:     device,
		Timestamp:    ts,
		Score:        score,
		ModelVersion: "iforest-default",
		Confirmation: detection.StateUnconfirmed,
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

// storeContract runs the behaviour every detection.Store must share.
func storeContract(t *testing.T, s detection.Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.WriteWindowSummary(ctx, detection.WindowSummary{
		DeviceID:     "unit_a",
		Timestamp:    12,
		FeatureNames: []string{"vib_max"},
		Features:     []float64{999},
		Score:        0.9,
		ModelVersion: "stub",
		RecordedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("WriteWindowSummary() error = %v", err)
	}

	for i, a := range []*detection.Alert{newAlert("unit_a", 12, 0.9), newAlert("unit_b", 7, 0.6), newAlert("unit_a", 13, 0.7)} {
		a.CreatedAt = a.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := s.WriteAlert(ctx, a); err != nil {
			t.Fatalf("WriteAlert() error = %v", err)
		}
	}

	c, err := s.WriteConfirmation(ctx, detection.Confirmation{
		DeviceID: "unit_a", Timestamp: 12, Confirmed: true, OperatorID: "op-1", ConfirmedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("WriteConfirmation() error = %v", err)
	}
	if !c.AlertFound {
		t.Error("AlertFound = false for existing alert")
	}

	c, err = s.WriteConfirmation(ctx, detection.Confirmation{
		DeviceID: "ghost", Timestamp: 1, OperatorID: "op-1", ConfirmedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("WriteConfirmation(no alert) error = %v", err)
	}
	if c.AlertFound {
		t.Error("AlertFound = true with no alert")
	}

	all, err := s.ListAlerts(ctx, detection.AlertFilter{})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(ListAlerts) = %d, want 3", len(all))
	}
	if all[0].Timestamp != 13 {
		t.Errorf("newest alert ts = %d, want 13", all[0].Timestamp)
	}

	tests := []struct {
		name   string
		filter detection.AlertFilter
		want   int
	}{
		{"by device", detection.AlertFilter{DeviceID: "unit_a"}, 2},
		{"confirmed", detection.AlertFilter{State: detection.StateConfirmed}, 1},
		{"unconfirmed", detection.AlertFilter{State: detection.StateUnconfirmed}, 2},
		{"limit", detection.AlertFilter{Limit: 1}, 1},
	}
	for _, tt := range tests {
		got, err := s.ListAlerts(ctx, tt.filter)
		if err != nil {
			t.Fatalf("%s: ListAlerts() error = %v", tt.name, err)
		}
		if len(got) != tt.want {
			t.Errorf("%s: len = %d, want %d", tt.name, len(got), tt.want)
		}
	}

	confirmed, _ := s.ListAlerts(ctx, detection.AlertFilter{State: detection.StateConfirmed})
	if len(confirmed) == 1 {
		a := confirmed[0]
		if a.ConfirmedBy != "op-1" || a.ConfirmedAt == nil {
			t.Errorf("confirmed alert metadata = %q %v", a.ConfirmedBy, a.ConfirmedAt)
		}
		if a.Score != 0.9 {
			t.Errorf("confirmed alert score = %v, want 0.9", a.Score)
		}
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestMemoryStore_CopiesSummaryFeatures(t *testing.T) {
	m := NewMemoryStore()
	values := []float64{1, 2}
	if err := m.WriteWindowSummary(context.Background(), detection.WindowSummary{Features: values}); err != nil {
		t.Fatalf("WriteWindowSummary() error = %v", err)
	}
	values[0] = 99
	if got := m.Summaries()[0].Features[0]; got != 1 {
		t.Errorf("stored feature = %v, want 1", got)
	}
}

func TestOpen_Drivers(t *testing.T) {
	b, err := Open(config.StorageConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	if _, ok := b.Store.(*MemoryStore); !ok {
		t.Errorf("Store = %T, want *MemoryStore", b.Store)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}

	if _, err := Open(config.StorageConfig{Driver: "postgres"}); err == nil {
		t.Error("Open(unknown driver) = nil error")
	}

	b, err = Open(config.StorageConfig{Driver: DriverMemory, Outbox: config.OutboxConfig{Enabled: true}})
	if err != nil {
		t.Fatalf("Open(outbox) error = %v", err)
	}
	defer b.Close()
	if b.Outbox == nil || b.Store != detection.Store(b.Outbox) {
		t.Errorf("outbox not in front of store: %T", b.Store)
	}
}
