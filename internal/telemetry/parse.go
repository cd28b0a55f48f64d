// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package telemetry

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/edgewatch/internal/validation"
)

const (
	// FieldDevice and FieldTimestamp are the reserved payload keys.
	FieldDevice    = "device"
	FieldTimestamp = "ts"

	// MaxChannels caps how many sensor channels one record may carry.
	MaxChannels = 256
)

type identity struct {
	Device string `json:"device" validate:"required,deviceid"`
}

// Parse decodes a JSON telemetry payload. Parsing is partial-tolerant: a bad
// channel or timestamp is replaced by a safe default (0, or the gate clock
// for ts) and reported through *MalformedInputError alongside the usable
// record. Only a body that is not a JSON object, or a missing or invalid
// device, yields a zero Record.
func (g *Gate) Parse(body []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil || raw == nil {
		return Record{}, &MalformedInputError{Problems: []FieldProblem{
			{Field: "body", Reason: "not a JSON object"},
		}}
	}

	deviceID, problem := coerceDevice(raw[FieldDevice])
	if problem != "" {
		return Record{}, &MalformedInputError{Problems: []FieldProblem{
			{Field: FieldDevice, Reason: problem},
		}}
	}
	if verr := validation.ValidateStruct(&identity{Device: deviceID}); verr != nil {
		return Record{}, &MalformedInputError{Problems: []FieldProblem{
			{Field: FieldDevice, Reason: verr.Error()},
		}}
	}

	var problems []FieldProblem

	ts, ok := coerceTimestamp(raw[FieldTimestamp])
	if !ok {
		ts = g.now().Unix()
		reason := "missing, defaulted to receive time"
		if _, present := raw[FieldTimestamp]; present {
			reason = "not an integer, defaulted to receive time"
		}
		problems = append(problems, FieldProblem{Field: FieldTimestamp, Reason: reason})
	}

	// Sorted keys keep problem ordering stable across runs.
	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k != FieldDevice && k != FieldTimestamp {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > MaxChannels {
		problems = append(problems, FieldProblem{
			Field:  "body",
			Reason: fmt.Sprintf("%d channels, only the first %d kept", len(keys), MaxChannels),
		})
		keys = keys[:MaxChannels]
	}

	fields := make(map[string]float64, len(keys))
	for _, k := range keys {
		v, ok := coerceNumber(raw[k])
		if !ok {
			problems = append(problems, FieldProblem{Field: k, Reason: "not numeric, defaulted to 0"})
			v = 0
		}
		fields[k] = v
	}

	rec := Record{DeviceID: deviceID, Timestamp: ts, fields: fields}
	if len(problems) > 0 {
		return rec, &MalformedInputError{Problems: problems}
	}
	return rec, nil
}

func coerceDevice(v interface{}) (string, string) {
	switch d := v.(type) {
	case nil:
		return "", "missing"
	case string:
		d = strings.TrimSpace(d)
		if d == "" {
			return "", "empty"
		}
		return d, ""
	case json.Number:
		return d.String(), ""
	default:
		return "", "must be a string"
	}
}

func coerceTimestamp(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil && isFinite(f) {
			return int64(f), true
		}
	case string:
		s := strings.TrimSpace(t)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && isFinite(f) {
			return int64(f), true
		}
	}
	return 0, false
}

func coerceNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil && isFinite(f)
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && isFinite(f)
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
