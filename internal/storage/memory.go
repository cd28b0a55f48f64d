// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package storage

import (
	"context"
	"sync"

	"github.com/tomtom215/edgewatch/internal/detection"
)

// MemoryStore is an append-only in-process detection.Store. It is the
// default driver and backs most tests.
type MemoryStore struct {
	mu            sync.RWMutex
	summaries     []detection.WindowSummary
	alerts        []detection.Alert
	confirmations []detection.Confirmation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// WriteWindowSummary appends a summary.
func (m *MemoryStore) WriteWindowSummary(_ context.Context, s detection.WindowSummary) error {
	s.FeatureNames = append([]string(nil), s.FeatureNames...)
	s.Features = append([]float64(nil), s.Features...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

// WriteAlert appends an alert.
func (m *MemoryStore) WriteAlert(_ context.Context, a *detection.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

// WriteConfirmation records c and stamps every alert with the same
// (device, ts) key.
func (m *MemoryStore) WriteConfirmation(_ context.Context, c detection.Confirmation) (detection.Confirmation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.AlertFound = false
	for i := range m.alerts {
		a := &m.alerts[i]
		if a.DeviceID != c.DeviceID || a.Timestamp != c.Timestamp {
			continue
		}
		c.AlertFound = true
		confirmedAt := c.ConfirmedAt
		a.Confirmation = detection.StateFor(c.Confirmed)
		a.ConfirmedBy = c.OperatorID
		a.ConfirmedAt = &confirmedAt
	}
	m.confirmations = append(m.confirmations, c)
	return c, nil
}

// ListAlerts returns matching alerts newest first.
func (m *MemoryStore) ListAlerts(_ context.Context, f detection.AlertFilter) ([]detection.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]detection.Alert, 0)
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if f.DeviceID != "" && a.DeviceID != f.DeviceID {
			continue
		}
		if f.State != "" && a.Confirmation != f.State {
			continue
		}
		out = append(out, a)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Summaries returns a copy of all recorded window summaries.
func (m *MemoryStore) Summaries() []detection.WindowSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]detection.WindowSummary(nil), m.summaries...)
}

// Confirmations returns a copy of all recorded confirmations.
func (m *MemoryStore) Confirmations() []detection.Confirmation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]detection.Confirmation(nil), m.confirmations...)
}
