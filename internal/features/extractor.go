// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package features turns a window snapshot into a fixed-length vector of
// aggregate statistics.
package features

import (
	"fmt"
	"math"
	"sort"

	"github.com/tomtom215/edgewatch/internal/window"
)

// Stats are emitted per channel in this order.
var Stats = []string{"mean", "std", "max", "min", "sum"}

// Vector is an ordered feature vector. Names[i] labels Values[i].
type Vector struct {
	Names  []string
	Values []float64
}

// Len returns the vector dimension.
func (v Vector) Len() int { return len(v.Values) }

// Map returns name -> value, used for persistence.
func (v Vector) Map() map[string]float64 {
	out := make(map[string]float64, len(v.Values))
	for i, name := range v.Names {
		out[name] = v.Values[i]
	}
	return out
}

// Extractor computes per-channel statistics. It holds no mutable state and
// is safe for concurrent use.
type Extractor struct {
	channels []string
	names    []string
}

// NewExtractor creates an extractor over channels, in the given order.
func NewExtractor(channels []string) (*Extractor, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("features: at least one channel is required")
	}
	seen := make(map[string]bool, len(channels))
	names := make([]string, 0, len(channels)*len(Stats))
	for _, ch := range channels {
		if seen[ch] {
			return nil, fmt.Errorf("features: duplicate channel %q", ch)
		}
		seen[ch] = true
		for _, st := range Stats {
			names = append(names, ch+"_"+st)
		}
	}
	return &Extractor{channels: append([]string(nil), channels...), names: names}, nil
}

// Dim returns the fixed vector length.
func (e *Extractor) Dim() int { return len(e.names) }

// Names returns a copy of the feature names.
func (e *Extractor) Names() []string { return append([]string(nil), e.names...) }

// Channels returns a copy of the configured channels.
func (e *Extractor) Channels() []string { return append([]string(nil), e.channels...) }

// Extract computes mean, population std, max, min and sum for every
// channel. Absent channels read as 0. Each channel's values are sorted
// before accumulation so the output is bit-identical for any ordering of
// the same records. An empty snapshot yields all zeros.
func (e *Extractor) Extract(snap window.Snapshot) Vector {
	values := make([]float64, 0, len(e.names))
	col := make([]float64, len(snap.Records))

	for _, ch := range e.channels {
		for i, r := range snap.Records {
			col[i] = r.Value(ch)
		}
		values = append(values, summarize(col)...)
	}
	return Vector{Names: e.Names(), Values: values}
}

func summarize(col []float64) []float64 {
	n := len(col)
	if n == 0 {
		return []float64{0, 0, 0, 0, 0}
	}
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var sq float64
	for _, v := range sorted {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))

	return []float64{mean, std, sorted[n-1], sorted[0], sum}
}
