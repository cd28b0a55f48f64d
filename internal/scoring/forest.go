// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package scoring

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/edgewatch/internal/features"
)

// Model versions reported by the isolation forest.
const (
	ForestLoadedVersion  = "iforest-loaded"
	ForestDefaultVersion = "iforest-default"
)

// eulerGamma is the Euler-Mascheroni constant used in the harmonic number
// approximation.
const eulerGamma = 0.5772156649015329

// DecisionToAnomaly maps an isolation-forest decision value into the
// anomaly range: anomaly = 1.0 - (raw + 0.5). It is an approximation, not a
// calibrated probability, and must stay exactly this affine map.
func DecisionToAnomaly(raw float64) float64 {
	return 1.0 - (raw + 0.5)
}

// forestNode is an isolation tree node. Leaves have nil children and carry
// the number of training points that reached them.
type forestNode struct {
	Feature int         `json:"f"`
	Split   float64     `json:"s"`
	Size    int         `json:"n,omitempty"`
	Left    *forestNode `json:"l,omitempty"`
	Right   *forestNode `json:"r,omitempty"`
}

func (n *forestNode) leaf() bool { return n.Left == nil }

// Forest is an isolation forest. Immutable after Fit or load.
type Forest struct {
	Dim        int           `json:"dim"`
	SampleSize int           `json:"sample_size"`
	Trees      []*forestNode `json:"trees"`

	version string
}

// FitForest trains a forest on data (rows are feature vectors). A freshly
// fitted forest reports iforest-default until it is saved and reloaded.
func FitForest(data [][]float64, trees, sampleSize int, rng *rand.Rand) (*Forest, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("isolation forest: need at least 2 samples, got %d", len(data))
	}
	if trees < 1 {
		return nil, fmt.Errorf("isolation forest: trees must be positive")
	}
	dim := len(data[0])
	for i, row := range data {
		if len(row) != dim {
			return nil, fmt.Errorf("isolation forest: row %d has %d features, want %d", i, len(row), dim)
		}
	}
	if sampleSize > len(data) {
		sampleSize = len(data)
	}
	if sampleSize < 2 {
		sampleSize = 2
	}

	limit := int(math.Ceil(math.Log2(float64(sampleSize))))
	f := &Forest{Dim: dim, SampleSize: sampleSize, Trees: make([]*forestNode, trees), version: ForestDefaultVersion}
	idx := make([]int, len(data))
	for i := range idx {
		idx[i] = i
	}
	for t := 0; t < trees; t++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		sample := make([][]float64, sampleSize)
		for i := 0; i < sampleSize; i++ {
			sample[i] = data[idx[i]]
		}
		f.Trees[t] = buildTree(sample, 0, limit, dim, rng)
	}
	return f, nil
}

func buildTree(points [][]float64, depth, limit, dim int, rng *rand.Rand) *forestNode {
	if depth >= limit || len(points) <= 1 {
		return &forestNode{Size: len(points)}
	}
	// Try features in random order until one is not constant here.
	for _, feat := range rng.Perm(dim) {
		lo, hi := points[0][feat], points[0][feat]
		for _, p := range points[1:] {
			lo = math.Min(lo, p[feat])
			hi = math.Max(hi, p[feat])
		}
		if lo == hi {
			continue
		}
		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, p := range points {
			if p[feat] < split {
				left = append(left, p)
			} else {
				right = append(right, p)
			}
		}
		return &forestNode{
			Feature: feat,
			Split:   split,
			Left:    buildTree(left, depth+1, limit, dim, rng),
			Right:   buildTree(right, depth+1, limit, dim, rng),
		}
	}
	return &forestNode{Size: len(points)}
}

// averagePathLength is c(n), the mean path length of an unsuccessful BST
// search over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}

func (n *forestNode) pathLength(x []float64, depth int) float64 {
	for !n.leaf() {
		if x[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.Size)
}

// Decision returns the decision-function value: positive for inliers,
// negative for outliers, 0.5 - 2^(-E[h(x)]/c(psi)).
func (f *Forest) Decision(x []float64) float64 {
	var total float64
	for _, t := range f.Trees {
		total += t.pathLength(x, 0)
	}
	mean := total / float64(len(f.Trees))
	return 0.5 - math.Pow(2, -mean/averagePathLength(f.SampleSize))
}

// ModelVersion returns iforest-loaded or iforest-default.
func (f *Forest) ModelVersion() string { return f.version }

// Score maps the decision value through DecisionToAnomaly.
func (f *Forest) Score(vec features.Vector) (Score, error) {
	if err := checkDim(vec, f.Dim); err != nil {
		return Score{}, err
	}
	v := DecisionToAnomaly(f.Decision(vec.Values))
	if err := checkFinite(v); err != nil {
		return Score{}, err
	}
	return Score{Value: clamp01(v), ModelVersion: f.version}, nil
}

// Save writes the forest as JSON.
func (f *Forest) Save(path string) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode isolation forest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write isolation forest: %w", err)
	}
	return nil
}

// LoadForest reads a forest saved with Save and tags it iforest-loaded.
func LoadForest(path string) (*Forest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read isolation forest: %w", err)
	}
	f := &Forest{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("decode isolation forest %s: %w", path, err)
	}
	if f.Dim < 1 || len(f.Trees) == 0 || f.SampleSize < 2 {
		return nil, fmt.Errorf("isolation forest %s: empty or invalid model", path)
	}
	for i, t := range f.Trees {
		if err := t.check(f.Dim); err != nil {
			return nil, fmt.Errorf("isolation forest %s: tree %d: %w", path, i, err)
		}
	}
	f.version = ForestLoadedVersion
	return f, nil
}

func (n *forestNode) check(dim int) error {
	if n == nil {
		return fmt.Errorf("nil node")
	}
	if (n.Left == nil) != (n.Right == nil) {
		return fmt.Errorf("node has one child")
	}
	if n.leaf() {
		return nil
	}
	if n.Feature < 0 || n.Feature >= dim {
		return fmt.Errorf("feature index %d out of range", n.Feature)
	}
	if err := n.Left.check(dim); err != nil {
		return err
	}
	return n.Right.check(dim)
}

// DefaultForest fits an uncalibrated forest on seeded standard-normal data
// for when no trained forest is on disk. Scores are tagged iforest-default.
func DefaultForest(dim, trees, sampleSize int, seed int64) (*Forest, error) {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible, not security sensitive
	n := sampleSize * 4
	data := make([][]float64, n)
	for i := range data {
		row := make([]float64, dim)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		data[i] = row
	}
	return FitForest(data, trees, sampleSize, rng)
}
