// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package telemetry

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthenticated means the credential was missing or wrong. The
	// record is never forwarded.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrMalformedInput means the payload had problems. When the returned
	// Record is non-zero it is still usable with defaults applied.
	ErrMalformedInput = errors.New("malformed input")
)

// FieldProblem describes one field that could not be used as sent.
type FieldProblem struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// MalformedInputError lists every field problem found while parsing.
type MalformedInputError struct {
	Problems []FieldProblem
}

func (e *MalformedInputError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Reason)
	}
	return "malformed input: " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrMalformedInput) true.
func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// Warnings returns the problems as "field: reason" strings.
func (e *MalformedInputError) Warnings() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Field+": "+p.Reason)
	}
	return out
}
