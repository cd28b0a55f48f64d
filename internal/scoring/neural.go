// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package scoring

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/tomtom215/edgewatch/internal/features"
)

// Reduction modes collapse the network output to one scalar.
const (
	ReductionMean = "mean" // mean of the output tensor
	ReductionMSE  = "mse"  // mean squared reconstruction error
)

// Artifact is the on-disk neural model. Weights use the Keras Dense layout,
// [input][output], so an exported autoencoder (64-32-16-32-64 relu, linear
// output) can be written straight from layer.get_weights().
type Artifact struct {
	Name      string  `json:"name"`
	InputDim  int     `json:"input_dim"`
	Reduction string  `json:"reduction,omitempty"`
	Scaler    *Scaler `json:"scaler,omitempty"`
	Layers    []Layer `json:"layers"`
}

// Scaler standardizes inputs as (x - mean) / scale before inference.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// Layer is one dense layer.
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Bias       []float64   `json:"bias"`
	Activation string      `json:"activation"`
}

func (l Layer) in() int  { return len(l.Weights) }
func (l Layer) out() int { return len(l.Bias) }

// Neural scores by running the artifact's network. Immutable after load,
// safe for concurrent use.
type Neural struct {
	artifact Artifact
	version  string
}

// LoadNeural reads and validates an artifact. model_version is the file
// name. A missing file returns an error wrapping os.ErrNotExist.
func LoadNeural(path string) (*Neural, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode model artifact %s: %w", path, err)
	}
	return NewNeural(a, filepath.Base(path))
}

// NewNeural validates a and wraps it as a backend.
func NewNeural(a Artifact, version string) (*Neural, error) {
	if a.Reduction == "" {
		a.Reduction = ReductionMean
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return &Neural{artifact: a, version: version}, nil
}

func (a Artifact) validate() error {
	if a.InputDim < 1 {
		return fmt.Errorf("model artifact: input_dim must be positive")
	}
	if len(a.Layers) == 0 {
		return fmt.Errorf("model artifact: no layers")
	}
	if a.Reduction != ReductionMean && a.Reduction != ReductionMSE {
		return fmt.Errorf("model artifact: unknown reduction %q", a.Reduction)
	}
	if a.Scaler != nil && (len(a.Scaler.Mean) != a.InputDim || len(a.Scaler.Scale) != a.InputDim) {
		return fmt.Errorf("model artifact: scaler length must equal input_dim %d", a.InputDim)
	}
	width := a.InputDim
	for i, l := range a.Layers {
		if l.out() == 0 {
			return fmt.Errorf("model artifact: layer %d has no outputs", i)
		}
		if l.in() != width {
			return fmt.Errorf("model artifact: layer %d expects %d inputs, previous width is %d", i, l.in(), width)
		}
		for _, row := range l.Weights {
			if len(row) != l.out() {
				return fmt.Errorf("model artifact: layer %d weight row has %d columns, bias has %d", i, len(row), l.out())
			}
		}
		if _, ok := activations[l.Activation]; !ok {
			return fmt.Errorf("model artifact: layer %d unknown activation %q", i, l.Activation)
		}
		width = l.out()
	}
	if a.Reduction == ReductionMSE && width != a.InputDim {
		return fmt.Errorf("model artifact: mse reduction needs output width %d, got %d", a.InputDim, width)
	}
	return nil
}

var activations = map[string]func(float64) float64{
	"":        identity,
	"linear":  identity,
	"relu":    relu,
	"sigmoid": sigmoid,
	"tanh":    math.Tanh,
}

func identity(x float64) float64 { return x }
func relu(x float64) float64     { return math.Max(0, x) }
func sigmoid(x float64) float64  { return 1 / (1 + math.Exp(-x)) }

// ModelVersion returns the artifact file name.
func (n *Neural) ModelVersion() string { return n.version }

// InputDim returns the expected vector length.
func (n *Neural) InputDim() int { return n.artifact.InputDim }

// Score runs inference and reduces the output, clamped to [0,1].
func (n *Neural) Score(vec features.Vector) (Score, error) {
	if err := checkDim(vec, n.artifact.InputDim); err != nil {
		return Score{}, err
	}

	x := make([]float64, len(vec.Values))
	copy(x, vec.Values)
	if s := n.artifact.Scaler; s != nil {
		for i := range x {
			if s.Scale[i] != 0 {
				x[i] = (x[i] - s.Mean[i]) / s.Scale[i]
			} else {
				x[i] -= s.Mean[i]
			}
		}
	}

	out := x
	for _, l := range n.artifact.Layers {
		out = l.forward(out)
	}

	var v float64
	switch n.artifact.Reduction {
	case ReductionMSE:
		for i := range out {
			d := out[i] - x[i]
			v += d * d
		}
	default:
		for _, o := range out {
			v += o
		}
	}
	v /= float64(len(out))

	if err := checkFinite(v); err != nil {
		return Score{}, err
	}
	return Score{Value: clamp01(v), ModelVersion: n.version}, nil
}

func (l Layer) forward(in []float64) []float64 {
	act := activations[l.Activation]
	out := make([]float64, l.out())
	copy(out, l.Bias)
	for i, xi := range in {
		if xi == 0 {
			continue
		}
		row := l.Weights[i]
		for j := range out {
			out[j] += xi * row[j]
		}
	}
	for j := range out {
		out[j] = act(out[j])
	}
	return out
}
