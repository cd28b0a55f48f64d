// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package window buffers the most recent telemetry records per device and
// signals when a device has enough history to be scored.
package window

import "github.com/tomtom215/edgewatch/internal/telemetry"

// Status is the result of an append.
type Status int

const (
	// StatusFilling means the window holds fewer than window_size records.
	StatusFilling Status = iota
	// StatusReady means the window is full. Returned on every append once
	// full, not only the first time.
	StatusReady
)

func (s Status) String() string {
	if s == StatusReady {
		return "ready"
	}
	return "filling"
}

// Snapshot is a copy of a full window in arrival order.
type Snapshot struct {
	DeviceID string
	Records  []telemetry.Record
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.Records) }

// LastTimestamp is the timestamp of the most recently arrived record, which
// is the one an alert is keyed by. Arrival order, not timestamp order.
func (s Snapshot) LastTimestamp() int64 {
	if len(s.Records) == 0 {
		return 0
	}
	return s.Records[len(s.Records)-1].Timestamp
}

// Window is a fixed-capacity ring buffer. Callers must hold the owning
// device's lock; see Manager.Do.
type Window struct {
	deviceID string
	buf      []telemetry.Record
	start    int
	n        int
	total    uint64
}

func newWindow(deviceID string, size int) *Window {
	return &Window{deviceID: deviceID, buf: make([]telemetry.Record, size)}
}

// Push appends rec, evicting the oldest record when the window is full.
func (w *Window) Push(rec telemetry.Record) Status {
	size := len(w.buf)
	if w.n < size {
		w.buf[(w.start+w.n)%size] = rec
		w.n++
	} else {
		w.buf[w.start] = rec
		w.start = (w.start + 1) % size
	}
	w.total++
	if w.n == size {
		return StatusReady
	}
	return StatusFilling
}

// Len returns the number of buffered records.
func (w *Window) Len() int { return w.n }

// Total returns how many records this window has ever accepted.
func (w *Window) Total() uint64 { return w.total }

// DeviceID returns the owning device.
func (w *Window) DeviceID() string { return w.deviceID }

// Snapshot copies the buffered records in arrival order. Records are
// immutable values so a slice copy fully decouples the snapshot.
func (w *Window) Snapshot() Snapshot {
	out := make([]telemetry.Record, w.n)
	size := len(w.buf)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.start+i)%size]
	}
	return Snapshot{DeviceID: w.deviceID, Records: out}
}
