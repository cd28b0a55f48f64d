// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package services

import (
	"context"
	"errors"
	"fmt"
)

// Runner is a blocking loop that returns when ctx is done.
// Satisfied by *storage.Outbox.
type Runner interface {
	Run(ctx context.Context) error
}

// LoopService supervises a Runner.
type LoopService struct {
	runner Runner
	name   string
}

// NewLoopService wraps runner under name.
func NewLoopService(name string, runner Runner) *LoopService {
	return &LoopService{runner: runner, name: name}
}

// Serve implements suture.Service. An early return that is not caused by
// cancellation is reported as a failure so the supervisor restarts it.
func (s *LoopService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s exited unexpectedly", s.name)
	}
	return fmt.Errorf("%s failed: %w", s.name, err)
}

// String names the service in supervisor logs.
func (s *LoopService) String() string {
	return s.name
}
