// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package scoring

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/edgewatch/internal/cache"
	"github.com/tomtom215/edgewatch/internal/features"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/metrics"
)

// Chain is the ordered list of variants selected at startup. Score never
// fails: on a variant failure it falls through to the next variant, then to
// the device's last successful score, then to the Null result.
type Chain struct {
	variants []Backend
	null     Null
	lastGood *cache.LRU[Score]
}

// NewChain builds a chain over variants in priority order. lastGoodCap
// bounds how many devices' last scores are remembered (0 = unbounded).
// Null is implicit at the end and must not be passed.
func NewChain(lastGoodCap int, variants ...Backend) *Chain {
	c := &Chain{
		variants: variants,
		lastGood: cache.NewLRU[Score](lastGoodCap, nil),
	}
	metrics.ScoringBackendInfo.Reset()
	metrics.ScoringBackendInfo.WithLabelValues(c.ModelVersion()).Set(1)
	return c
}

// ModelVersion is the primary variant's version, or "none".
func (c *Chain) ModelVersion() string {
	if len(c.variants) == 0 {
		return NullModelVersion
	}
	return c.variants[0].ModelVersion()
}

// Variants lists the chain's model versions in priority order, Null last.
func (c *Chain) Variants() []string {
	out := make([]string, 0, len(c.variants)+1)
	for _, v := range c.variants {
		out = append(out, v.ModelVersion())
	}
	return append(out, NullModelVersion)
}

// IsNull reports whether no model variant was selected.
func (c *Chain) IsNull() bool { return len(c.variants) == 0 }

// Score scores vec for deviceID.
func (c *Chain) Score(deviceID string, vec features.Vector) Score {
	start := time.Now()
	defer func() { metrics.ScoringDuration.Observe(time.Since(start).Seconds()) }()

	for _, b := range c.variants {
		s, err := safeScore(b, vec)
		if err == nil {
			c.lastGood.Add(deviceID, s)
			return s
		}
		metrics.ScoringFallbacks.WithLabelValues(b.ModelVersion(), fallbackReason(err)).Inc()
		logging.Warn().
			Err(err).
			Str("device_id", deviceID).
			Str("model_version", b.ModelVersion()).
			Msg("Scoring variant failed, falling through")
	}

	if len(c.variants) > 0 {
		if last, ok := c.lastGood.Get(deviceID); ok {
			return last
		}
	}
	s, _ := c.null.Score(vec)
	return s
}

func safeScore(b Backend, vec features.Vector) (s Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrScoringUnavailable, r)
		}
	}()
	s, err = b.Score(vec)
	if err == nil {
		err = checkFinite(s.Value)
	}
	if err == nil && (s.Value < 0 || s.Value > 1) {
		err = fmt.Errorf("%w: score %v outside [0,1]", ErrScoringUnavailable, s.Value)
	}
	return s, err
}

func fallbackReason(err error) string {
	if errors.Is(err, ErrDimensionMismatch) {
		return "dimension_mismatch"
	}
	return "numeric"
}

// SelectConfig drives Select.
type SelectConfig struct {
	ModelPath        string
	FallbackEnabled  bool
	ForestPath       string
	ForestTrees      int
	ForestSampleSize int
	Seed             int64
	MaxDevices       int
}

// Select builds the chain once at startup: Neural if an artifact is
// configured, present and loadable with the right dimension; then the
// isolation forest if fallback is enabled; Null always last.
func Select(cfg SelectConfig, dim int) (*Chain, error) {
	var variants []Backend

	if cfg.ModelPath != "" {
		n, err := LoadNeural(cfg.ModelPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logging.Warn().Str("path", cfg.ModelPath).Msg("Model artifact not found, neural scoring disabled")
		case err != nil:
			logging.Error().Err(err).Str("path", cfg.ModelPath).Msg("Model artifact unusable, neural scoring disabled")
		case n.InputDim() != dim:
			logging.Error().
				Int("artifact_dim", n.InputDim()).
				Int("feature_dim", dim).
				Msg("Model artifact dimension does not match configured channels, neural scoring disabled")
		default:
			variants = append(variants, n)
		}
	}

	if cfg.FallbackEnabled {
		f, err := selectForest(cfg, dim)
		if err != nil {
			return nil, err
		}
		variants = append(variants, f)
	}

	c := NewChain(cfg.MaxDevices, variants...)
	if c.IsNull() {
		logging.Warn().Msg("No scoring model available: Null scoring active, no alerts will be raised")
	} else {
		logging.Info().
			Str("model_version", c.ModelVersion()).
			Strs("chain", c.Variants()).
			Msg("Scoring chain selected")
	}
	return c, nil
}

func selectForest(cfg SelectConfig, dim int) (*Forest, error) {
	if cfg.ForestPath != "" {
		f, err := LoadForest(cfg.ForestPath)
		switch {
		case err == nil && f.Dim == dim:
			return f, nil
		case err == nil:
			logging.Error().Int("forest_dim", f.Dim).Int("feature_dim", dim).
				Msg("Persisted isolation forest dimension mismatch, using default forest")
		case errors.Is(err, os.ErrNotExist):
			logging.Info().Str("path", cfg.ForestPath).Msg("No persisted isolation forest, using default forest")
		default:
			logging.Error().Err(err).Msg("Persisted isolation forest unusable, using default forest")
		}
	}
	f, err := DefaultForest(dim, cfg.ForestTrees, cfg.ForestSampleSize, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("build default isolation forest: %w", err)
	}
	return f, nil
}
