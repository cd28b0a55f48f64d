// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package telemetry defines the inbound telemetry record and the ingestion
// gate that authenticates and parses it.
package telemetry

import "sort"

// Record is one telemetry sample from one device. It is immutable: the
// constructor copies the field map and accessors never expose it.
type Record struct {
	DeviceID  string
	Timestamp int64
	fields    map[string]float64
}

// NewRecord builds a record, copying fields.
func NewRecord(deviceID string, ts int64, fields map[string]float64) Record {
	cp := make(map[string]float64, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Record{DeviceID: deviceID, Timestamp: ts, fields: cp}
}

// Value returns the named channel, or 0 when the device did not report it.
func (r Record) Value(channel string) float64 {
	return r.fields[channel]
}

// Has reports whether the channel was present in the payload.
func (r Record) Has(channel string) bool {
	_, ok := r.fields[channel]
	return ok
}

// Channels returns the reported channel names in sorted order.
func (r Record) Channels() []string {
	names := make([]string, 0, len(r.fields))
	for k := range r.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IsZero reports whether r carries no device identity and so cannot be
// routed to a window.
func (r Record) IsZero() bool {
	return r.DeviceID == ""
}
