// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package features

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tomtom215/edgewatch/internal/telemetry"
	"github.com/tomtom215/edgewatch/internal/window"
)

func snapshot(records ...telemetry.Record) window.Snapshot {
	return window.Snapshot{DeviceID: "d", Records: records}
}

func TestExtract_Statistics(t *testing.T) {
	e, err := NewExtractor([]string{"vib", "gas"})
	if err != nil {
		t.Fatalf("NewExtractor() error = %v", err)
	}
	snap := snapshot(
		telemetry.NewRecord("d", 1, map[string]float64{"vib": 2}),
		telemetry.NewRecord("d", 2, map[string]float64{"vib": 4}),
		telemetry.NewRecord("d", 3, map[string]float64{"vib": 6, "gas": 3}),
	)
	v := e.Extract(snap)

	if v.Len() != 10 || e.Dim() != 10 {
		t.Fatalf("Len() = %d, Dim() = %d, want 10", v.Len(), e.Dim())
	}
	want := map[string]float64{
		"vib_mean": 4, "vib_std": math.Sqrt(8.0 / 3.0), "vib_max": 6, "vib_min": 2, "vib_sum": 12,
		"gas_mean": 1, "gas_max": 3, "gas_min": 0, "gas_sum": 3,
	}
	got := v.Map()
	for name, w := range want {
		if math.Abs(got[name]-w) > 1e-12 {
			t.Errorf("%s = %v, want %v", name, got[name], w)
		}
	}
	if v.Names[0] != "vib_mean" || v.Names[9] != "gas_sum" {
		t.Errorf("Names order = %v", v.Names)
	}
}

func TestExtract_OrderIndependent(t *testing.T) {
	e, _ := NewExtractor([]string{"vib", "gas", "temp"})
	rng := rand.New(rand.NewSource(7))
	records := make([]telemetry.Record, 12)
	for i := range records {
		records[i] = telemetry.NewRecord("d", int64(i), map[string]float64{
			"vib":  rng.NormFloat64() * 1e6,
			"gas":  rng.Float64() * 1e-6,
			"temp": rng.NormFloat64(),
		})
	}
	base := e.Extract(snapshot(records...))

	for trial := 0; trial < 20; trial++ {
		shuffled := append([]telemetry.Record(nil), records...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := e.Extract(snapshot(shuffled...))
		for i := range base.Values {
			if math.Float64bits(got.Values[i]) != math.Float64bits(base.Values[i]) {
				t.Fatalf("trial %d: %s = %v, want bit-identical %v", trial, base.Names[i], got.Values[i], base.Values[i])
			}
		}
	}
}

func TestExtract_OutOfOrderTimestamps(t *testing.T) {
	e, _ := NewExtractor([]string{"vib"})
	a := e.Extract(snapshot(
		telemetry.NewRecord("d", 5, map[string]float64{"vib": 1}),
		telemetry.NewRecord("d", 3, map[string]float64{"vib": 2}),
		telemetry.NewRecord("d", 4, map[string]float64{"vib": 3}),
	))
	b := e.Extract(snapshot(
		telemetry.NewRecord("d", 3, map[string]float64{"vib": 2}),
		telemetry.NewRecord("d", 4, map[string]float64{"vib": 3}),
		telemetry.NewRecord("d", 5, map[string]float64{"vib": 1}),
	))
	for i := range a.Values {
		if a.Values[i] != b.Values[i] {
			t.Errorf("%s = %v vs %v", a.Names[i], a.Values[i], b.Values[i])
		}
	}
}

func TestExtract_MissingAndEmpty(t *testing.T) {
	e, _ := NewExtractor([]string{"vib", "humidity"})
	v := e.Extract(snapshot(telemetry.NewRecord("d", 1, nil)))
	for i, x := range v.Values {
		if x != 0 {
			t.Errorf("%s = %v, want 0", v.Names[i], x)
		}
	}
	empty := e.Extract(window.Snapshot{})
	if empty.Len() != e.Dim() {
		t.Errorf("empty Len() = %d, want %d", empty.Len(), e.Dim())
	}
}

func TestNewExtractor_Errors(t *testing.T) {
	if _, err := NewExtractor(nil); err == nil {
		t.Error("NewExtractor(nil) = nil error")
	}
	if _, err := NewExtractor([]string{"a", "a"}); err == nil {
		t.Error("NewExtractor(dup) = nil error")
	}
}
