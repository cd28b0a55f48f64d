// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/edgewatch/internal/api"
	"github.com/tomtom215/edgewatch/internal/auth"
	"github.com/tomtom215/edgewatch/internal/config"
	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/features"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/pipeline"
	"github.com/tomtom215/edgewatch/internal/scoring"
	"github.com/tomtom215/edgewatch/internal/storage"
	"github.com/tomtom215/edgewatch/internal/supervisor"
	"github.com/tomtom215/edgewatch/internal/supervisor/services"
	"github.com/tomtom215/edgewatch/internal/telemetry"
	ws "github.com/tomtom215/edgewatch/internal/websocket"
	"github.com/tomtom215/edgewatch/internal/window"
)

//nolint:gocyclo // sequential setup steps
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Int("window_size", cfg.Pipeline.WindowSize).
		Float64("threshold", cfg.Pipeline.AnomalyThreshold).
		Strs("channels", cfg.Pipeline.Channels).
		Str("storage", cfg.Storage.Driver).
		Msg("Starting EdgeWatch with supervisor tree")

	// === STORAGE ===
	backend, err := storage.Open(cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()
	logging.Info().Bool("outbox", backend.Outbox != nil).Msg("Storage initialized")

	// === SCORING ===
	extractor, err := features.NewExtractor(cfg.Pipeline.Channels)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build feature extractor")
	}
	chain, err := scoring.Select(scoring.SelectConfig{
		ModelPath:        cfg.Scoring.ModelPath,
		FallbackEnabled:  cfg.Scoring.FallbackEnabled,
		ForestPath:       cfg.Scoring.ForestPath,
		ForestTrees:      cfg.Scoring.ForestTrees,
		ForestSampleSize: cfg.Scoring.ForestSampleSize,
		Seed:             cfg.Scoring.Seed,
		MaxDevices:       cfg.Pipeline.MaxDevices,
	}, extractor.Dim())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to select scoring backend")
	}
	logging.Info().
		Str("model_version", chain.ModelVersion()).
		Int("feature_dim", extractor.Dim()).
		Msg("Scoring backend selected")

	windows, err := window.NewManager(cfg.Pipeline.WindowSize, cfg.Pipeline.MaxDevices)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create window manager")
	}

	gate, err := telemetry.NewGate(cfg.Security.APIKey)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ingestion gate")
	}

	// === ALERTING ===
	hub := ws.NewHub()

	policy, err := detection.NewPolicy(detection.PolicyConfig{
		Threshold:     cfg.Pipeline.AnomalyThreshold,
		NotifyTimeout: cfg.Notify.Timeout,
	}, backend.Store, hub)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create alert policy")
	}

	natsServer, closeNotifiers, err := initNotifiers(cfg, policy)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize notifiers")
	}

	pipe, err := pipeline.New(pipeline.Deps{
		Gate:      gate,
		Windows:   windows,
		Extractor: extractor,
		Chain:     chain,
		Policy:    policy,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to assemble pipeline")
	}

	// === HTTP ===
	operators, err := initOperatorAuth(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize operator authentication")
	}

	if cfg.Security.RateLimitDisabled {
		logging.Warn().Msg("Rate limiting is DISABLED (DISABLE_RATE_LIMIT=true)")
	}

	handler := api.NewHandler(pipe, hub, api.HandlerConfig{
		CORSOrigins: cfg.Security.CORSOrigins,
		Checks: []api.ReadinessCheck{
			{Name: "storage", Check: backend.Ping},
		},
	})
	chiMiddleware := api.NewChiMiddleware(&api.ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Security.CORSOrigins,
		CORSMaxAge:         86400,
		RateLimitRequests:  cfg.Security.RateLimitReqs,
		RateLimitWindow:    cfg.Security.RateLimitWindow,
		RateLimitDisabled:  cfg.Security.RateLimitDisabled,
	})
	router := api.NewRouter(handler, chiMiddleware, operators)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadTimeout:       cfg.Server.Timeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}

	// === SUPERVISOR TREE ===
	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if backend.Outbox != nil {
		tree.MustAdd(supervisor.LayerData, services.NewLoopService("outbox-drain", backend.Outbox))
		logging.Info().Msg("Outbox drain added to data layer")
	}
	if natsServer != nil {
		tree.MustAdd(supervisor.LayerMessaging, natsServer)
		logging.Info().Str("url", natsServer.ClientURL()).Msg("Embedded NATS server added to messaging layer")
	}
	tree.MustAdd(supervisor.LayerMessaging, hub)
	tree.MustAdd(supervisor.LayerAPI, services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport() //nolint:errcheck // report only
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Let in-flight alert notifications finish before closing the publisher.
	policy.Wait()
	closeNotifiers()

	if backend.Outbox != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := backend.Outbox.Drain(drainCtx); err != nil {
			logging.Warn().Err(err).Int("pending", backend.Outbox.Depth()).Msg("Outbox not fully drained")
		}
		drainCancel()
	}

	logging.Info().Msg("Application stopped gracefully")
}

// initOperatorAuth returns the resolver for operator routes. Without a JWT
// secret, operators identify with the X-Operator-ID header.
func initOperatorAuth(cfg *config.Config) (*auth.OperatorResolver, error) {
	if cfg.Security.OperatorJWTSecret == "" {
		logging.Warn().Msg("Operator tokens disabled; operators identify with the X-Operator-ID header")
		return auth.NewOperatorResolver(nil), nil
	}
	m, err := auth.NewJWTManager(cfg.Security.OperatorJWTSecret, cfg.Security.OperatorTokenTTL)
	if err != nil {
		return nil, err
	}
	logging.Info().Dur("ttl", cfg.Security.OperatorTokenTTL).Msg("Operator JWT authentication enabled")
	return auth.NewOperatorResolver(m), nil
}
