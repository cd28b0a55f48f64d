// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package scoring

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/edgewatch/internal/features"
	"github.com/tomtom215/edgewatch/internal/metrics"
)

func TestChain_PrimaryWins(t *testing.T) {
	primary := &stubBackend{version: "primary", value: 0.7}
	secondary := &stubBackend{version: "secondary", value: 0.2}
	c := NewChain(0, primary, secondary)

	s := c.Score("d", zeroVector(3))
	if s.Value != 0.7 || s.ModelVersion != "primary" {
		t.Errorf("Score = %+v, want primary 0.7", s)
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times, want 0", secondary.calls)
	}
	if c.ModelVersion() != "primary" {
		t.Errorf("ModelVersion() = %q, want primary", c.ModelVersion())
	}
}

func TestChain_FallsThroughToNextVariant(t *testing.T) {
	primary := &stubBackend{version: "primary", value: math.NaN()}
	secondary := &stubBackend{version: "secondary", value: 0.4}
	c := NewChain(0, primary, secondary)

	before := testutil.ToFloat64(metrics.ScoringFallbacks.WithLabelValues("primary", "numeric"))
	s := c.Score("d", zeroVector(3))
	if s.ModelVersion != "secondary" || s.Value != 0.4 {
		t.Errorf("Score = %+v, want secondary 0.4", s)
	}
	if got := testutil.ToFloat64(metrics.ScoringFallbacks.WithLabelValues("primary", "numeric")) - before; got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
}

func TestChain_LastGoodThenNull(t *testing.T) {
	only := &stubBackend{version: "only", value: 0.8}
	c := NewChain(0, only)

	if s := c.Score("d", zeroVector(3)); s.Value != 0.8 {
		t.Fatalf("first Score = %+v, want 0.8", s)
	}

	only.set(0, ErrDimensionMismatch)
	s := c.Score("d", zeroVector(3))
	if s.Value != 0.8 || s.ModelVersion != "only" {
		t.Errorf("after failure Score = %+v, want last good 0.8/only", s)
	}

	// A device with no prior success gets the Null result.
	s = c.Score("other", zeroVector(3))
	if s.Value != 0 || s.ModelVersion != NullModelVersion {
		t.Errorf("other device Score = %+v, want Null", s)
	}
}

func TestChain_PanicAndOutOfRangeAreFailures(t *testing.T) {
	c := NewChain(0, panicBackend{}, &stubBackend{version: "big", value: 1.5})
	s := c.Score("d", zeroVector(1))
	if s.ModelVersion != NullModelVersion {
		t.Errorf("Score = %+v, want Null", s)
	}
}

type panicBackend struct{}

func (panicBackend) Score(features.Vector) (Score, error) { panic("boom") }
func (panicBackend) ModelVersion() string                 { return "panics" }

func TestChain_EmptyIsNull(t *testing.T) {
	c := NewChain(0)
	if !c.IsNull() || c.ModelVersion() != NullModelVersion {
		t.Errorf("empty chain IsNull=%v ModelVersion=%q", c.IsNull(), c.ModelVersion())
	}
	if s := c.Score("d", zeroVector(2)); s.Value != 0 {
		t.Errorf("Score = %v, want 0", s.Value)
	}
	if got := testutil.ToFloat64(metrics.ScoringBackendInfo.WithLabelValues(NullModelVersion)); got != 1 {
		t.Errorf("backend info{none} = %v, want 1", got)
	}
}

func TestSelect(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "autoencoder.json")
	data, _ := json.Marshal(autoencoderArtifact(10, 4))
	if err := os.WriteFile(modelPath, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	forestPath := filepath.Join(dir, "forest.json")
	f, _ := DefaultForest(10, 5, 16, 1)
	if err := f.Save(forestPath); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tests := []struct {
		name    string
		cfg     SelectConfig
		want    string
		variant int
	}{
		{"neural present", SelectConfig{ModelPath: modelPath, FallbackEnabled: true, ForestTrees: 5, ForestSampleSize: 16}, "autoencoder.json", 3},
		{"neural missing falls to default forest", SelectConfig{ModelPath: filepath.Join(dir, "nope.json"), FallbackEnabled: true, ForestTrees: 5, ForestSampleSize: 16}, ForestDefaultVersion, 2},
		{"persisted forest", SelectConfig{FallbackEnabled: true, ForestPath: forestPath, ForestTrees: 5, ForestSampleSize: 16}, ForestLoadedVersion, 2},
		{"nothing enabled", SelectConfig{}, NullModelVersion, 1},
		{"neural only", SelectConfig{ModelPath: modelPath}, "autoencoder.json", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Select(tt.cfg, 10)
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if c.ModelVersion() != tt.want {
				t.Errorf("ModelVersion() = %q, want %q", c.ModelVersion(), tt.want)
			}
			if got := len(c.Variants()); got != tt.variant {
				t.Errorf("len(Variants()) = %d, want %d (%v)", got, tt.variant, c.Variants())
			}
		})
	}
}

func TestSelect_NeuralDimensionMismatchSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ae.json")
	data, _ := json.Marshal(autoencoderArtifact(4, 2))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	c, err := Select(SelectConfig{ModelPath: path}, 35)
	if err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	if !c.IsNull() {
		t.Errorf("ModelVersion() = %q, want none", c.ModelVersion())
	}
}
