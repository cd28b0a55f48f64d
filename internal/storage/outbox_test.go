// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/metrics"
)

// flakyStore wraps MemoryStore and fails while down is set.
type flakyStore struct {
	*MemoryStore
	mu   sync.Mutex
	down bool
}

var errSinkDown = errors.New("sink down")

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *flakyStore) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *flakyStore) WriteWindowSummary(ctx context.Context, s detection.WindowSummary) error {
	if f.isDown() {
		return errSinkDown
	}
	return f.MemoryStore.WriteWindowSummary(ctx, s)
}

func (f *flakyStore) WriteAlert(ctx context.Context, a *detection.Alert) error {
	if f.isDown() {
		return errSinkDown
	}
	return f.MemoryStore.WriteAlert(ctx, a)
}

func (f *flakyStore) WriteConfirmation(ctx context.Context, c detection.Confirmation) (detection.Confirmation, error) {
	if f.isDown() {
		return c, errSinkDown
	}
	return f.MemoryStore.WriteConfirmation(ctx, c)
}

func newTestOutbox(t *testing.T, sink detection.Store, maxAttempts int) *Outbox {
	t.Helper()
	o, err := OpenOutbox(OutboxConfig{
		RetryInterval: time.Millisecond,
		MaxBackoff:    time.Millisecond,
		MaxAttempts:   maxAttempts,
	}, sink)
	if err != nil {
		t.Fatalf("OpenOutbox() error = %v", err)
	}
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestOutbox_AppliesImmediately(t *testing.T) {
	sink := NewMemoryStore()
	o := newTestOutbox(t, sink, 5)
	ctx := context.Background()

	a := newAlert("unit_a", 12, 0.9)
	if err := o.WriteAlert(ctx, a); err != nil {
		t.Fatalf("WriteAlert() error = %v", err)
	}
	c, err := o.WriteConfirmation(ctx, detection.Confirmation{DeviceID: "unit_a", Timestamp: 12, Confirmed: true, OperatorID: "op"})
	if err != nil {
		t.Fatalf("WriteConfirmation() error = %v", err)
	}
	if !c.AlertFound {
		t.Error("AlertFound = false, want true from sink")
	}
	if o.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0", o.Depth())
	}

	alerts, _ := o.ListAlerts(ctx, detection.AlertFilter{})
	if len(alerts) != 1 || alerts[0].ID != a.ID {
		t.Errorf("sink alerts = %+v", alerts)
	}
}

func TestOutbox_RetriesAfterSinkRecovers(t *testing.T) {
	sink := &flakyStore{MemoryStore: NewMemoryStore(), down: true}
	o := newTestOutbox(t, sink, 50)
	ctx := context.Background()

	err := o.WriteAlert(ctx, newAlert("unit_a", 12, 0.9))
	if !errors.Is(err, ErrDeferred) || !errors.Is(err, detection.ErrPersistence) {
		t.Fatalf("WriteAlert() error = %v, want ErrDeferred", err)
	}
	if o.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", o.Depth())
	}

	sink.setDown(false)
	time.Sleep(5 * time.Millisecond)
	before := testutil.ToFloat64(metrics.OutboxRetries.WithLabelValues("success"))
	if err := o.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if o.Depth() != 0 {
		t.Errorf("Depth() after drain = %d, want 0", o.Depth())
	}
	if got := testutil.ToFloat64(metrics.OutboxRetries.WithLabelValues("success")) - before; got != 1 {
		t.Errorf("retries{success} = %v, want 1", got)
	}
	alerts, _ := sink.ListAlerts(ctx, detection.AlertFilter{})
	if len(alerts) != 1 {
		t.Errorf("sink alerts = %d, want 1", len(alerts))
	}
}

func TestOutbox_DropsAfterMaxAttempts(t *testing.T) {
	sink := &flakyStore{MemoryStore: NewMemoryStore(), down: true}
	o := newTestOutbox(t, sink, 1)
	ctx := context.Background()

	if err := o.WriteWindowSummary(ctx, detection.WindowSummary{DeviceID: "unit_a"}); err == nil {
		t.Fatal("WriteWindowSummary() = nil error with sink down")
	}

	before := testutil.ToFloat64(metrics.OutboxDropped)
	if err := o.Drain(ctx); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if o.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0 after drop", o.Depth())
	}
	if got := testutil.ToFloat64(metrics.OutboxDropped) - before; got != 1 {
		t.Errorf("dropped = %v, want 1", got)
	}
}

func TestOutbox_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	sink := &flakyStore{MemoryStore: NewMemoryStore(), down: true}
	cfg := OutboxConfig{Path: dir, RetryInterval: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 10}

	o, err := OpenOutbox(cfg, sink)
	if err != nil {
		t.Fatalf("OpenOutbox() error = %v", err)
	}
	_ = o.WriteAlert(context.Background(), newAlert("unit_a", 3, 0.7))
	if err := o.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	sink.setDown(false)
	o, err = OpenOutbox(cfg, sink)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer o.Close()
	if o.Depth() != 1 {
		t.Fatalf("Depth() after reopen = %d, want 1", o.Depth())
	}
	time.Sleep(5 * time.Millisecond)
	if err := o.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() error = %v", err)
	}
	if alerts, _ := sink.ListAlerts(context.Background(), detection.AlertFilter{}); len(alerts) != 1 {
		t.Errorf("sink alerts = %d, want 1", len(alerts))
	}
}

func TestOutbox_RunStopsOnCancel(t *testing.T) {
	o := newTestOutbox(t, NewMemoryStore(), 5)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop")
	}
}

func TestOutbox_Backoff(t *testing.T) {
	o := &Outbox{cfg: OutboxConfig{RetryInterval: time.Second, MaxBackoff: 10 * time.Second}}
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{100, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := o.backoff(tt.attempts); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}
