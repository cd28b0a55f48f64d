// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package storage provides the persistence collaborators behind the alert
// policy: an in-memory store, a DuckDB store and a badger outbox that can
// sit in front of either.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/edgewatch/internal/config"
	"github.com/tomtom215/edgewatch/internal/detection"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverDuckDB = "duckdb"
)

// Backend is the assembled store plus its lifecycle hooks.
type Backend struct {
	// Store is what the policy writes to: the outbox when enabled,
	// otherwise the driver store directly.
	Store detection.Store

	// Outbox is nil unless storage.outbox.enabled is set.
	Outbox *Outbox

	duck *DuckDBStore
}

// Open builds the configured driver and optional outbox.
func Open(cfg config.StorageConfig) (*Backend, error) {
	b := &Backend{}

	var sink detection.Store
	switch cfg.Driver {
	case "", DriverMemory:
		sink = NewMemoryStore()
	case DriverDuckDB:
		duck, err := OpenDuckDB(cfg.DuckDBPath)
		if err != nil {
			return nil, err
		}
		b.duck = duck
		sink = duck
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
	b.Store = sink

	if cfg.Outbox.Enabled {
		ob, err := OpenOutbox(OutboxConfig{
			Path:          cfg.Outbox.Path,
			RetryInterval: cfg.Outbox.RetryInterval,
			MaxBackoff:    cfg.Outbox.MaxBackoff,
			MaxAttempts:   cfg.Outbox.MaxAttempts,
			SyncWrites:    true,
		}, sink)
		if err != nil {
			_ = b.Close() //nolint:errcheck // already failing
			return nil, err
		}
		b.Outbox = ob
		b.Store = ob
	}
	return b, nil
}

// Ping reports whether the backing database answers.
func (b *Backend) Ping(ctx context.Context) error {
	if b.duck == nil {
		return nil
	}
	return b.duck.Ping(ctx)
}

// Close closes the outbox and database.
func (b *Backend) Close() error {
	var errs []error
	if b.Outbox != nil {
		errs = append(errs, b.Outbox.Close())
	}
	if b.duck != nil {
		errs = append(errs, b.duck.Close())
	}
	return errors.Join(errs...)
}
