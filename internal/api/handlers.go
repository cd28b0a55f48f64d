// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package api exposes the pipeline over HTTP with a chi router.
package api

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/pipeline"
	ws "github.com/tomtom215/edgewatch/internal/websocket"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 64 * 1024

// Service is the pipeline surface the handlers call.
type Service interface {
	Ingest(ctx context.Context, token string, body []byte) (pipeline.Result, error)
	Confirm(ctx context.Context, deviceID string, ts int64, operatorID string, confirmed bool) detection.Confirmation
	ListAlerts(ctx context.Context, filter detection.AlertFilter) ([]detection.Alert, error)
	ModelInfo() pipeline.ModelInfo
}

// ReadinessCheck is one dependency probed by /health/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	CORSOrigins  []string
	MaxBodyBytes int64
	Checks       []ReadinessCheck
}

// Handler holds the HTTP handlers.
type Handler struct {
	svc          Service
	hub          *ws.Hub
	corsOrigins  []string
	maxBodyBytes int64
	checks       []ReadinessCheck
	startTime    time.Time
}

// NewHandler creates the handlers. hub may be nil, which disables /ws.
func NewHandler(svc Service, hub *ws.Hub, cfg HandlerConfig) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		svc:          svc,
		hub:          hub,
		corsOrigins:  append([]string(nil), cfg.CORSOrigins...),
		maxBodyBytes: cfg.MaxBodyBytes,
		checks:       append([]ReadinessCheck(nil), cfg.Checks...),
		startTime:    time.Now(),
	}
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkWebSocketOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}
