// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/features"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/scoring"
	"github.com/tomtom215/edgewatch/internal/storage"
	"github.com/tomtom215/edgewatch/internal/telemetry"
	"github.com/tomtom215/edgewatch/internal/window"
)

const testSecret = "device-secret"

// boundStub scores 0.9 when any feature exceeds bound and 0 otherwise.
type boundStub struct {
	bound float64
}

func (s boundStub) Score(vec features.Vector) (scoring.Score, error) {
	for _, v := range vec.Values {
		if v > s.bound {
			return scoring.Score{Value: 0.9, ModelVersion: s.ModelVersion()}, nil
		}
	}
	return scoring.Score{Value: 0, ModelVersion: s.ModelVersion()}, nil
}

func (boundStub) ModelVersion() string { return "stub-bound" }

// nanBackend always produces a non-finite score.
type nanBackend struct{}

func (nanBackend) Score(features.Vector) (scoring.Score, error) {
	return scoring.Score{Value: math.NaN(), ModelVersion: "nan"}, nil
}

func (nanBackend) ModelVersion() string { return "nan" }

type harness struct {
	pipeline *Pipeline
	store    *storage.MemoryStore
}

func newHarness(t *testing.T, windowSize int, threshold float64, backends ...scoring.Backend) harness {
	t.Helper()
	gate, err := telemetry.NewGate(testSecret)
	if err != nil {
		t.Fatalf("NewGate() error = %v", err)
	}
	windows, err := window.NewManager(windowSize, 0)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	extractor, err := features.NewExtractor([]string{"vib", "temp"})
	if err != nil {
		t.Fatalf("NewExtractor() error = %v", err)
	}
	store := storage.NewMemoryStore()
	policy, err := detection.NewPolicy(detection.PolicyConfig{Threshold: threshold}, store, nil)
	if err != nil {
		t.Fatalf("NewPolicy() error = %v", err)
	}
	p, err := New(Deps{
		Gate:      gate,
		Windows:   windows,
		Extractor: extractor,
		Chain:     scoring.NewChain(0, backends...),
		Policy:    policy,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return harness{pipeline: p, store: store}
}

func body(device string, ts int64, vib float64) []byte {
	return []byte(fmt.Sprintf(`{"device":%q,"ts":%d,"vib":%g}`, device, ts, vib))
}

func TestPipeline_EndToEndSingleAlert(t *testing.T) {
	h := newHarness(t, 10, 0.5, boundStub{bound: 100})

	vib := make([]float64, 12)
	vib[11] = 999

	var alerts []*detection.Alert
	for i, v := range vib {
		res, err := h.pipeline.Ingest(context.Background(), testSecret, body("unit_a", int64(1000+i), v))
		if err != nil {
			t.Fatalf("call %d: Ingest() error = %v", i+1, err)
		}
		if wantReady := i+1 >= 10; res.Ready != wantReady {
			t.Errorf("call %d: Ready = %v, want %v", i+1, res.Ready, wantReady)
		}
		if res.Alert != nil {
			if i != 11 {
				t.Errorf("alert raised on call %d, want call 12", i+1)
			}
			alerts = append(alerts, res.Alert)
		}
	}

	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	if alerts[0].Score != 0.9 {
		t.Errorf("alert score = %v, want 0.9", alerts[0].Score)
	}
	if alerts[0].DeviceID != "unit_a" || alerts[0].Timestamp != 1011 {
		t.Errorf("alert key = (%s, %d), want (unit_a, 1011)", alerts[0].DeviceID, alerts[0].Timestamp)
	}

	stored, err := h.pipeline.ListAlerts(context.Background(), detection.AlertFilter{DeviceID: "unit_a"})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(stored))
	}
	if got := len(h.store.Summaries()); got != 3 {
		t.Errorf("window summaries = %d, want 3", got)
	}
}

func TestPipeline_FirstFullWindowRaisesSingleAlert(t *testing.T) {
	h := newHarness(t, 12, 0.5, boundStub{bound: 100})

	vib := make([]float64, 12)
	vib[11] = 999

	for i, v := range vib {
		call := i + 1
		res, err := h.pipeline.Ingest(context.Background(), testSecret, body("unit_a", int64(2000+i), v))
		if err != nil {
			t.Fatalf("call %d: Ingest() error = %v", call, err)
		}
		if call < 12 {
			if res.Ready || res.Score != nil || res.Alert != nil {
				t.Errorf("call %d: Ready = %v, Score = %v, Alert = %v, want nothing", call, res.Ready, res.Score, res.Alert)
			}
			continue
		}
		if !res.Ready {
			t.Fatal("call 12: Ready = false, want true")
		}
		if res.Alert == nil {
			t.Fatal("call 12: no alert raised")
		}
		if res.Alert.Score != 0.9 {
			t.Errorf("alert score = %v, want 0.9", res.Alert.Score)
		}
		if res.Alert.DeviceID != "unit_a" || res.Alert.Timestamp != 2011 {
			t.Errorf("alert key = (%s, %d), want (unit_a, 2011)", res.Alert.DeviceID, res.Alert.Timestamp)
		}
	}

	stored, err := h.pipeline.ListAlerts(context.Background(), detection.AlertFilter{DeviceID: "unit_a"})
	if err != nil {
		t.Fatalf("ListAlerts() error = %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(stored))
	}
	if got := len(h.store.Summaries()); got != 1 {
		t.Errorf("window summaries = %d, want 1", got)
	}
}

func TestPipeline_Errors(t *testing.T) {
	h := newHarness(t, 2, 0.5)

	tests := []struct {
		name    string
		token   string
		body    string
		wantErr error
	}{
		{"wrong token", "nope", `{"device":"d","ts":1}`, telemetry.ErrUnauthenticated},
		{"empty token", "", `{"device":"d","ts":1}`, telemetry.ErrUnauthenticated},
		{"not json", testSecret, `{{{`, telemetry.ErrMalformedInput},
		{"no device", testSecret, `{"ts":1,"vib":1}`, telemetry.ErrMalformedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.pipeline.Ingest(context.Background(), tt.token, []byte(tt.body))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Ingest() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if _, ok := h.pipeline.Peek("d"); ok {
		t.Error("rejected records reached a window")
	}
}

func TestPipeline_PartialRecordWarns(t *testing.T) {
	h := newHarness(t, 2, 0.5)

	res, err := h.pipeline.Ingest(context.Background(), testSecret, []byte(`{"device":"d","ts":1,"vib":"loud"}`))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want one", res.Warnings)
	}
	snap, ok := h.pipeline.Peek("d")
	if !ok || snap.Len() != 1 || snap.Records[0].Value("vib") != 0 {
		t.Errorf("window = %+v, want one record with vib 0", snap)
	}
}

func TestPipeline_PartialRecordLoggedAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := logging.Logger()
	logging.SetLogger(logging.NewTestLogger(&buf).Level(zerolog.InfoLevel))
	defer logging.SetLogger(prev)

	h := newHarness(t, 2, 0.5)
	if _, err := h.pipeline.Ingest(context.Background(), testSecret, []byte(`{"device":"d","ts":1,"vib":"loud"}`)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "Accepted record with field problems") || !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("partial record not logged at warn: %s", out)
	}
}

func TestPipeline_OutOfOrderTimestampsSameFeatures(t *testing.T) {
	h := newHarness(t, 3, 1)

	values := map[int64]float64{3: 1.25, 4: -7.5, 5: 40.125}
	for _, ts := range []int64{5, 3, 4} {
		if _, err := h.pipeline.Ingest(context.Background(), testSecret, body("shuffled", ts, values[ts])); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}
	for _, ts := range []int64{3, 4, 5} {
		if _, err := h.pipeline.Ingest(context.Background(), testSecret, body("ordered", ts, values[ts])); err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
	}

	summaries := h.store.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(summaries))
	}
	a, b := summaries[0].Features, summaries[1].Features
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			t.Errorf("feature %s: %v != %v", summaries[0].FeatureNames[i], a[i], b[i])
		}
	}
}

func TestPipeline_NullChainNeverAlerts(t *testing.T) {
	h := newHarness(t, 2, 0.5)

	for i := 0; i < 5; i++ {
		res, err := h.pipeline.Ingest(context.Background(), testSecret, body("d", int64(i), 1e9))
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if res.Alert != nil {
			t.Fatal("null chain raised an alert")
		}
		if res.Ready && (res.Score == nil || res.Score.ModelVersion != scoring.NullModelVersion) {
			t.Errorf("Score = %+v, want none", res.Score)
		}
	}
}

func TestPipeline_FailingVariantFallsThrough(t *testing.T) {
	h := newHarness(t, 1, 0.5, nanBackend{}, boundStub{bound: 100})

	res, err := h.pipeline.Ingest(context.Background(), testSecret, body("d", 1, 500))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Score == nil || res.Score.ModelVersion != "stub-bound" || res.Alert == nil {
		t.Errorf("result = %+v, want stub-bound alert", res)
	}
}

func TestPipeline_ConcurrentDevices(t *testing.T) {
	h := newHarness(t, 4, 0.5, boundStub{bound: 100})

	var wg sync.WaitGroup
	for d := 0; d < 8; d++ {
		wg.Add(1)
		go func(d int) {
			defer wg.Done()
			device := fmt.Sprintf("dev-%d", d)
			for i := 0; i < 20; i++ {
				if _, err := h.pipeline.Ingest(context.Background(), testSecret, body(device, int64(i), float64(i))); err != nil {
					t.Errorf("Ingest() error = %v", err)
					return
				}
			}
		}(d)
	}
	wg.Wait()

	// 17 ready windows per device
	if got := len(h.store.Summaries()); got != 8*17 {
		t.Errorf("summaries = %d, want %d", got, 8*17)
	}
}

func TestPipeline_ConfirmWithoutAlert(t *testing.T) {
	h := newHarness(t, 2, 0.5)

	c := h.pipeline.Confirm(context.Background(), "ghost", 7, "operator-1", true)
	if c.AlertFound {
		t.Error("AlertFound = true, want false")
	}
	if got := len(h.store.Confirmations()); got != 1 {
		t.Errorf("confirmations = %d, want 1", got)
	}
}

func TestPipeline_ModelInfo(t *testing.T) {
	h := newHarness(t, 10, 0.5, boundStub{bound: 1})

	info := h.pipeline.ModelInfo()
	if info.ModelVersion != "stub-bound" || info.WindowSize != 10 || info.Threshold != 0.5 {
		t.Errorf("ModelInfo() = %+v", info)
	}
	if info.FeatureDim != 10 || len(info.FeatureNames) != 10 {
		t.Errorf("FeatureDim = %d, names = %d, want 10", info.FeatureDim, len(info.FeatureNames))
	}
	if len(info.FallbackChain) != 2 || info.FallbackChain[1] != scoring.NullModelVersion {
		t.Errorf("FallbackChain = %v", info.FallbackChain)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New(Deps{}) = nil error")
	}
}
