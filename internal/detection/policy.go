// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package detection

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/edgewatch/internal/features"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/metrics"
	"github.com/tomtom215/edgewatch/internal/scoring"
)

// Evaluation is one scored window handed to the policy.
type Evaluation struct {
	DeviceID  string
	Timestamp int64
	Features  features.Vector
	Score     scoring.Score
}

// PolicyConfig configures the alert policy.
type PolicyConfig struct {
	// Threshold is the inclusive score at which an alert is raised.
	Threshold float64

	// NotifyTimeout bounds each notifier send.
	NotifyTimeout time.Duration
}

// DefaultPolicyConfig returns the stock threshold and timeout.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Threshold:     0.5,
		NotifyTimeout: 10 * time.Second,
	}
}

// Policy turns scored windows into alerts and records operator verdicts.
type Policy struct {
	threshold     float64
	notifyTimeout time.Duration
	store         Store
	broadcaster   AlertBroadcaster
	now           func() time.Time

	mu        sync.RWMutex
	notifiers []Notifier

	inflight sync.WaitGroup
}

// NewPolicy creates a policy over store. broadcaster may be nil.
func NewPolicy(cfg PolicyConfig, store Store, broadcaster AlertBroadcaster) (*Policy, error) {
	if store == nil {
		return nil, fmt.Errorf("detection: store is required")
	}
	if math.IsNaN(cfg.Threshold) || cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("detection: threshold %v outside [0,1]", cfg.Threshold)
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = DefaultPolicyConfig().NotifyTimeout
	}
	return &Policy{
		threshold:     cfg.Threshold,
		notifyTimeout: cfg.NotifyTimeout,
		store:         store,
		broadcaster:   broadcaster,
		now:           time.Now,
	}, nil
}

// RegisterNotifier adds a notifier to the fan-out.
func (p *Policy) RegisterNotifier(n Notifier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.notifiers = append(p.notifiers, n)
	logging.Info().Str("notifier", n.Name()).Bool("enabled", n.Enabled()).Msg("Registered notifier")
}

// Threshold returns the configured alert threshold.
func (p *Policy) Threshold() float64 { return p.threshold }

// Evaluate persists the window summary and, when the score reaches the
// threshold, creates, persists and notifies an unconfirmed alert. It returns
// the alert or nil. Every ready window is evaluated independently, so a
// persistent anomaly raises one alert per window.
func (p *Policy) Evaluate(ctx context.Context, ev Evaluation) *Alert {
	now := p.now().UTC()

	summary := WindowSummary{
		DeviceID:     ev.DeviceID,
		Timestamp:    ev.Timestamp,
		FeatureNames: ev.Features.Names,
		Features:     ev.Features.Values,
		Score:        ev.Score.Value,
		ModelVersion: ev.Score.ModelVersion,
		RecordedAt:   now,
	}
	if err := p.store.WriteWindowSummary(ctx, summary); err != nil {
		metrics.RecordPersistenceFailure("window_summary")
		logging.Ctx(ctx).Error().Err(err).Int64("ts", ev.Timestamp).Msg("Failed to persist window summary")
	}

	if ev.Score.Value < p.threshold {
		return nil
	}

	alert := &Alert{
		ID:           uuid.New(),
		DeviceID:     ev.DeviceID,
		Timestamp:    ev.Timestamp,
		Score:        ev.Score.Value,
		ModelVersion: ev.Score.ModelVersion,
		Confirmation: StateUnconfirmed,
		CreatedAt:    now,
	}
	metrics.AlertsRaised.Inc()
	logging.Ctx(ctx).Warn().
		Str("alert_id", alert.ID.String()).
		Int64("ts", alert.Timestamp).
		Float64("score", alert.Score).
		Str("model_version", alert.ModelVersion).
		Msg("Anomaly alert raised")

	if err := p.store.WriteAlert(ctx, alert); err != nil {
		metrics.RecordPersistenceFailure("alert")
		logging.Ctx(ctx).Error().Err(err).Str("alert_id", alert.ID.String()).Msg("Failed to persist alert")
	}

	p.notify(ctx, alert)
	p.broadcast(alert)
	return alert
}

// Confirm records an operator verdict for (deviceID, ts). It succeeds even
// when no alert matches; the returned AlertFound says whether one did.
func (p *Policy) Confirm(ctx context.Context, deviceID string, ts int64, operatorID string, confirmed bool) Confirmation {
	c := Confirmation{
		DeviceID:    deviceID,
		Timestamp:   ts,
		Confirmed:   confirmed,
		OperatorID:  operatorID,
		ConfirmedAt: p.now().UTC(),
	}

	stored, err := p.store.WriteConfirmation(ctx, c)
	if err != nil {
		metrics.RecordPersistenceFailure("confirmation")
		logging.Ctx(ctx).Error().Err(err).Int64("ts", ts).Msg("Failed to persist confirmation")
	} else {
		c = stored
	}

	metrics.RecordConfirmation(string(StateFor(confirmed)), c.AlertFound)
	logging.Ctx(ctx).Info().
		Int64("ts", ts).
		Str("operator_id", operatorID).
		Bool("confirmed", confirmed).
		Bool("alert_found", c.AlertFound).
		Msg("Alert confirmation recorded")

	if p.broadcaster != nil {
		p.broadcaster.BroadcastJSON("confirmation", c)
	}
	return c
}

// ListAlerts reads alerts from the store.
func (p *Policy) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	alerts, err := p.store.ListAlerts(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return alerts, nil
}

// Wait blocks until in-flight notifications finish.
func (p *Policy) Wait() {
	p.inflight.Wait()
}

// notify fans the alert out to every enabled notifier on its own goroutine.
// The send context keeps request values but not the request's cancellation.
func (p *Policy) notify(ctx context.Context, alert *Alert) {
	p.mu.RLock()
	notifiers := make([]Notifier, 0, len(p.notifiers))
	for _, n := range p.notifiers {
		if n.Enabled() {
			notifiers = append(notifiers, n)
		}
	}
	p.mu.RUnlock()

	base := context.WithoutCancel(ctx)
	for _, n := range notifiers {
		p.inflight.Add(1)
		go func(n Notifier) {
			defer p.inflight.Done()
			sendCtx, cancel := context.WithTimeout(base, p.notifyTimeout)
			defer cancel()

			err := n.Send(sendCtx, alert)
			metrics.RecordNotification(n.Name(), err)
			if err != nil {
				logging.Ctx(sendCtx).Error().Err(err).Str("notifier", n.Name()).Msg("Failed to send alert")
			}
		}(n)
	}
}

func (p *Policy) broadcast(alert *Alert) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.BroadcastJSON("alert", alert)
}
