// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package window

import (
	"fmt"
	"sync"

	"github.com/tomtom215/edgewatch/internal/cache"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/metrics"
	"github.com/tomtom215/edgewatch/internal/telemetry"
)

type deviceState struct {
	mu     sync.Mutex
	window *Window
}

// Manager owns every device's window. Each device has its own mutex, so
// one device's append-score-evaluate sequence is serialized while other
// devices proceed in parallel.
//
// Devices are held in an LRU bounded by maxDevices (0 = unbounded). A
// device with a Do in flight is never evicted. An evicted device that
// reports again starts a fresh, filling window.
type Manager struct {
	size    int
	devices *cache.LRU[*deviceState]
}

// NewManager creates a manager with the given window size and device cap.
func NewManager(windowSize, maxDevices int) (*Manager, error) {
	if windowSize < 1 {
		return nil, fmt.Errorf("window: size must be positive, got %d", windowSize)
	}
	m := &Manager{size: windowSize}
	m.devices = cache.NewLRU[*deviceState](maxDevices, func(deviceID string, _ *deviceState) {
		metrics.WindowEvictions.Inc()
		logging.Debug().Str("device_id", deviceID).Msg("Evicted idle device window")
	})
	return m, nil
}

// WindowSize returns the configured window size.
func (m *Manager) WindowSize() int { return m.size }

// Len returns the number of tracked devices.
func (m *Manager) Len() int { return m.devices.Len() }

// acquire returns deviceID's state pinned in the registry. A pinned
// device cannot be evicted, so concurrent callers always share one state
// and one mutex.
func (m *Manager) acquire(deviceID string) (*deviceState, func()) {
	st, created, release := m.devices.Acquire(deviceID, func() *deviceState {
		return &deviceState{window: newWindow(deviceID, m.size)}
	})
	if created {
		metrics.DevicesTracked.Set(float64(m.devices.Len()))
	}
	return st, release
}

// Do runs fn with deviceID's window locked. fn must not retain w.
func (m *Manager) Do(deviceID string, fn func(w *Window)) {
	st, release := m.acquire(deviceID)
	defer release()

	st.mu.Lock()
	defer st.mu.Unlock()
	fn(st.window)
}

// Append pushes rec onto its device's window. On StatusReady the returned
// snapshot is a copy taken under the device lock; on StatusFilling it is
// empty.
func (m *Manager) Append(rec telemetry.Record) (Status, Snapshot) {
	var (
		status Status
		snap   Snapshot
	)
	m.Do(rec.DeviceID, func(w *Window) {
		status = w.Push(rec)
		if status == StatusReady {
			snap = w.Snapshot()
		}
	})
	return status, snap
}

// Peek returns a copy of deviceID's current window, full or not.
func (m *Manager) Peek(deviceID string) (Snapshot, bool) {
	st, ok := m.devices.Get(deviceID)
	if !ok {
		return Snapshot{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.window.Snapshot(), true
}
