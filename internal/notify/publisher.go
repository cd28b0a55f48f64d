// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package notify publishes alert events to NATS and hosts the optional
// embedded NATS server.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/edgewatch/internal/breaker"
	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/logging"
)

// DefaultSubjectPrefix namespaces alert subjects.
const DefaultSubjectPrefix = "edgewatch.alerts"

// PublisherConfig configures the NATS alert publisher.
type PublisherConfig struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// NATSPublisher publishes one message per alert on
// <prefix>.<device>, behind a circuit breaker.
type NATSPublisher struct {
	publisher message.Publisher
	cb        *gobreaker.CircuitBreaker[struct{}]
	prefix    string

	mu     sync.RWMutex
	closed bool
}

// NewNATSPublisher connects a watermill NATS publisher in core NATS mode.
// Alerts are fire-and-forget, so no JetStream stream is provisioned.
func NewNATSPublisher(cfg PublisherConfig) (*NATSPublisher, error) {
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())

	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("edgewatch"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	logging.Info().Str("url", cfg.URL).Str("subject_prefix", cfg.SubjectPrefix).Msg("NATS alert publisher connected")
	return NewPublisherWith(pub, cfg.SubjectPrefix), nil
}

// NewPublisherWith wraps an existing watermill publisher.
func NewPublisherWith(pub message.Publisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		publisher: pub,
		cb:        breaker.New[struct{}](breaker.DefaultConfig("nats-publisher")),
		prefix:    strings.TrimSuffix(prefix, "."),
	}
}

// Name returns the notifier name.
func (p *NATSPublisher) Name() string { return "nats" }

// Enabled reports whether the publisher is still open.
func (p *NATSPublisher) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}

// Subject returns the subject an alert for deviceID is published on.
func (p *NATSPublisher) Subject(deviceID string) string {
	return p.prefix + "." + SubjectToken(deviceID)
}

// Send publishes {alert_id, device, ts, score, model_version}.
func (p *NATSPublisher) Send(ctx context.Context, alert *detection.Alert) error {
	if !p.Enabled() {
		return fmt.Errorf("%w: publisher is closed", detection.ErrNotification)
	}

	data, err := json.Marshal(detection.EventFor(alert))
	if err != nil {
		return fmt.Errorf("encode alert event: %w", err)
	}
	msg := message.NewMessage(alert.ID.String(), data)
	msg.SetContext(ctx)
	msg.Metadata.Set("device", alert.DeviceID)
	msg.Metadata.Set("model_version", alert.ModelVersion)
	if rid := logging.RequestIDFromContext(ctx); rid != "" {
		msg.Metadata.Set("request_id", rid)
	}

	subject := p.Subject(alert.DeviceID)
	_, err = p.cb.Execute(func() (struct{}, error) {
		return struct{}{}, p.publisher.Publish(subject, msg)
	})
	if err != nil {
		return fmt.Errorf("%w: publish %s: %w", detection.ErrNotification, subject, err)
	}
	return nil
}

// Close shuts down the publisher.
func (p *NATSPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}

// SubjectToken makes deviceID safe as a single NATS subject token: every
// byte outside [A-Za-z0-9_-] becomes '_'.
func SubjectToken(deviceID string) string {
	if deviceID == "" {
		return "_"
	}
	var b strings.Builder
	b.Grow(len(deviceID))
	for i := 0; i < len(deviceID); i++ {
		c := deviceID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
