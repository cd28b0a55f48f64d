// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/edgewatch/internal/config"
	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/notify"
)

// initNotifiers registers the configured alert notifiers on policy. The
// returned embedded server, when non-nil, must be added to the supervisor
// tree. closeFn releases publisher connections and is always non-nil.
func initNotifiers(cfg *config.Config, policy *detection.Policy) (*notify.EmbeddedServer, func(), error) {
	closeFn := func() {}
	if !cfg.Notify.Enabled {
		logging.Info().Msg("Alert notifications disabled (NOTIFY_ENABLED=false)")
		return nil, closeFn, nil
	}

	if cfg.Notify.Webhook.Enabled && cfg.Notify.Webhook.URL != "" {
		policy.RegisterNotifier(detection.NewWebhookNotifier(detection.WebhookConfig{
			WebhookURL:  cfg.Notify.Webhook.URL,
			Headers:     cfg.Notify.Webhook.Headers,
			Enabled:     true,
			RateLimitMs: cfg.Notify.Webhook.RateLimitMs,
			Timeout:     cfg.Notify.Timeout,
		}))
	}

	if !cfg.Notify.NATS.Enabled {
		return nil, closeFn, nil
	}

	var embedded *notify.EmbeddedServer
	url := cfg.Notify.NATS.URL
	if cfg.Notify.NATS.EmbeddedServer {
		srv, err := notify.StartEmbeddedServer("127.0.0.1", cfg.Notify.NATS.EmbeddedPort)
		if err != nil {
			return nil, closeFn, fmt.Errorf("start embedded NATS server: %w", err)
		}
		embedded = srv
		url = srv.ClientURL()
	}

	pub, err := notify.NewNATSPublisher(notify.PublisherConfig{
		URL:           url,
		SubjectPrefix: cfg.Notify.NATS.SubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	})
	if err != nil {
		if embedded != nil {
			shutdownEmbedded(embedded)
		}
		return nil, closeFn, fmt.Errorf("connect NATS publisher: %w", err)
	}
	policy.RegisterNotifier(pub)

	closeFn = func() {
		if err := pub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing NATS publisher")
		}
	}
	return embedded, closeFn, nil
}

func shutdownEmbedded(srv *notify.EmbeddedServer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("Embedded NATS server shutdown failed")
	}
}
