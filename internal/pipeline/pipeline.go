// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package pipeline wires the ingestion gate, window registry, feature
// extractor, scoring chain and alert policy into the three operations the
// HTTP layer exposes: Ingest, Confirm and ModelInfo.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/features"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/metrics"
	"github.com/tomtom215/edgewatch/internal/scoring"
	"github.com/tomtom215/edgewatch/internal/telemetry"
	"github.com/tomtom215/edgewatch/internal/window"
)

// Deps are the components a Pipeline drives. All are required.
type Deps struct {
	Gate      *telemetry.Gate
	Windows   *window.Manager
	Extractor *features.Extractor
	Chain     *scoring.Chain
	Policy    *detection.Policy
}

// Result describes what one ingested record caused.
type Result struct {
	DeviceID string           `json:"device"`
	Ready    bool             `json:"ready"`
	Score    *scoring.Score   `json:"score,omitempty"`
	Alert    *detection.Alert `json:"alert,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ModelInfo reports the scoring setup chosen at startup.
type ModelInfo struct {
	ModelVersion  string   `json:"model_version"`
	WindowSize    int      `json:"window_size"`
	Threshold     float64  `json:"threshold"`
	FeatureDim    int      `json:"feature_dim"`
	FeatureNames  []string `json:"feature_names"`
	FallbackChain []string `json:"fallback_chain"`
}

// Pipeline processes telemetry records end to end.
type Pipeline struct {
	gate      *telemetry.Gate
	windows   *window.Manager
	extractor *features.Extractor
	chain     *scoring.Chain
	policy    *detection.Policy
}

// New validates deps and returns a pipeline.
func New(d Deps) (*Pipeline, error) {
	switch {
	case d.Gate == nil:
		return nil, fmt.Errorf("pipeline: gate is required")
	case d.Windows == nil:
		return nil, fmt.Errorf("pipeline: window manager is required")
	case d.Extractor == nil:
		return nil, fmt.Errorf("pipeline: feature extractor is required")
	case d.Chain == nil:
		return nil, fmt.Errorf("pipeline: scoring chain is required")
	case d.Policy == nil:
		return nil, fmt.Errorf("pipeline: alert policy is required")
	}
	return &Pipeline{
		gate:      d.Gate,
		windows:   d.Windows,
		extractor: d.Extractor,
		chain:     d.Chain,
		policy:    d.Policy,
	}, nil
}

// Ingest authenticates and parses body, appends the record to its device's
// window and, once the window is full, scores it and hands the result to
// the alert policy.
//
// Errors are telemetry.ErrUnauthenticated, or telemetry.ErrMalformedInput
// when no usable record could be parsed. A record with recoverable field
// problems is processed and its problems returned as Result.Warnings.
// Scoring, persistence and notification failures never surface here.
//
// The device lock is held from append through evaluation, so a device's
// windows are evaluated in arrival order.
func (p *Pipeline) Ingest(ctx context.Context, token string, body []byte) (Result, error) {
	rec, err := p.gate.Admit(token, body)

	var warnings []string
	switch {
	case err == nil:
		metrics.RecordIngest(metrics.IngestAccepted)
	case errors.Is(err, telemetry.ErrUnauthenticated):
		metrics.RecordIngest(metrics.IngestUnauthenticated)
		return Result{}, err
	default:
		var malformed *telemetry.MalformedInputError
		if rec.IsZero() || !errors.As(err, &malformed) {
			metrics.RecordIngest(metrics.IngestMalformed)
			return Result{}, err
		}
		metrics.RecordIngest(metrics.IngestPartial)
		warnings = malformed.Warnings()
	}

	ctx = logging.ContextWithDeviceID(ctx, rec.DeviceID)
	if len(warnings) > 0 {
		logging.Ctx(ctx).Warn().Strs("warnings", warnings).Msg("Accepted record with field problems")
	}

	res := Result{DeviceID: rec.DeviceID, Warnings: warnings}
	p.windows.Do(rec.DeviceID, func(w *window.Window) {
		if w.Push(rec) != window.StatusReady {
			return
		}
		res.Ready = true

		vec := p.extractor.Extract(w.Snapshot())
		score := p.chain.Score(rec.DeviceID, vec)
		metrics.RecordScore(score.ModelVersion, score.Value)
		res.Score = &score

		res.Alert = p.policy.Evaluate(ctx, detection.Evaluation{
			DeviceID:  rec.DeviceID,
			Timestamp: rec.Timestamp,
			Features:  vec,
			Score:     score,
		})
	})
	return res, nil
}

// Confirm records an operator verdict. It succeeds whether or not an
// alert exists for (deviceID, ts).
func (p *Pipeline) Confirm(ctx context.Context, deviceID string, ts int64, operatorID string, confirmed bool) detection.Confirmation {
	return p.policy.Confirm(ctx, deviceID, ts, operatorID, confirmed)
}

// ListAlerts returns stored alerts, newest first.
func (p *Pipeline) ListAlerts(ctx context.Context, filter detection.AlertFilter) ([]detection.Alert, error) {
	return p.policy.ListAlerts(ctx, filter)
}

// ModelInfo describes the active scoring setup.
func (p *Pipeline) ModelInfo() ModelInfo {
	return ModelInfo{
		ModelVersion:  p.chain.ModelVersion(),
		WindowSize:    p.windows.WindowSize(),
		Threshold:     p.policy.Threshold(),
		FeatureDim:    p.extractor.Dim(),
		FeatureNames:  p.extractor.Names(),
		FallbackChain: p.chain.Variants(),
	}
}

// Peek returns a copy of a device's current window.
func (p *Pipeline) Peek(deviceID string) (window.Snapshot, bool) {
	return p.windows.Peek(deviceID)
}
