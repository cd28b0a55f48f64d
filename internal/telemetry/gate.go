// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package telemetry

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"time"
)

// Gate authenticates devices against the shared secret and parses their
// payloads.
type Gate struct {
	secretDigest [sha256.Size]byte
	now          func() time.Time
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithClock overrides the clock used when a record carries no timestamp.
func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a gate for the given shared secret.
func NewGate(secret string, opts ...GateOption) (*Gate, error) {
	if secret == "" {
		return nil, errors.New("telemetry: shared secret must not be empty")
	}
	g := &Gate{
		secretDigest: sha256.Sum256([]byte(secret)),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Authenticate compares token with the secret in constant time. Both sides
// are hashed first so the comparison does not leak the secret's length.
func (g *Gate) Authenticate(token string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	presented := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(presented[:], g.secretDigest[:]) != 1 {
		return ErrUnauthenticated
	}
	return nil
}

// Admit authenticates then parses. An authentication failure returns a zero
// Record and never looks at body.
func (g *Gate) Admit(token string, body []byte) (Record, error) {
	if err := g.Authenticate(token); err != nil {
		return Record{}, err
	}
	return g.Parse(body)
}
