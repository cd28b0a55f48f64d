// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package scoring maps feature vectors to anomaly scores in [0,1].
//
// Three variants exist, chosen once at startup by Select in strict priority
// order:
//
//   - Neural: a dense autoencoder artifact (model_version = artifact name)
//   - Forest: an isolation forest (iforest-loaded or iforest-default)
//   - Null: always 0.0 with model_version "none"
//
// The Null variant means "never anomalous". It keeps the pipeline running
// when no model is available, and it is a blind spot: Select logs a warning
// and the edgewatch_scoring_backend_info gauge reports it.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/tomtom215/edgewatch/internal/features"
)

var (
	// ErrScoringUnavailable marks an internal numeric failure. It never
	// reaches the ingesting caller; Chain falls through instead.
	ErrScoringUnavailable = errors.New("scoring unavailable")

	// ErrDimensionMismatch means the vector length differs from the model's.
	ErrDimensionMismatch = fmt.Errorf("%w: dimension mismatch", ErrScoringUnavailable)
)

// NullModelVersion identifies the Null variant.
const NullModelVersion = "none"

// Score is an anomaly score and the model that produced it.
type Score struct {
	Value        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

// Backend is one scoring variant.
type Backend interface {
	Score(vec features.Vector) (Score, error)
	ModelVersion() string
}

// Null never flags anything.
type Null struct{}

// Score always returns 0.0.
func (Null) Score(features.Vector) (Score, error) {
	return Score{Value: 0, ModelVersion: NullModelVersion}, nil
}

// ModelVersion returns "none".
func (Null) ModelVersion() string { return NullModelVersion }

func checkDim(vec features.Vector, want int) error {
	if vec.Len() != want {
		return fmt.Errorf("%w: got %d, model expects %d", ErrDimensionMismatch, vec.Len(), want)
	}
	return nil
}

func checkFinite(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: non-finite result %v", ErrScoringUnavailable, v)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
