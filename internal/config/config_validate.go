// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package config

import (
	"fmt"
	"net/url"
)

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var validLogFormats = map[string]bool{
	"json": true, "console": true,
}

var validStorageDrivers = map[string]bool{
	"memory": true, "duckdb": true,
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if err := c.validateNotify(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.APIKey == "" {
		return fmt.Errorf("API_KEY is required: devices cannot authenticate without a shared secret")
	}
	if s := c.Security.OperatorJWTSecret; s != "" && len(s) < 32 {
		return fmt.Errorf("OPERATOR_JWT_SECRET must be at least 32 characters")
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQS must be positive unless DISABLE_RATE_LIMIT=true")
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" && c.Security.OperatorJWTSecret != "" {
			return fmt.Errorf("CORS_ORIGINS=* is not allowed when operator tokens are enabled")
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.WindowSize < 2 {
		return fmt.Errorf("WINDOW_SIZE must be at least 2, got %d", c.Pipeline.WindowSize)
	}
	if c.Pipeline.AnomalyThreshold < 0 || c.Pipeline.AnomalyThreshold > 1 {
		return fmt.Errorf("ANOMALY_THRESHOLD must be within [0,1], got %v", c.Pipeline.AnomalyThreshold)
	}
	if c.Pipeline.MaxDevices < 0 {
		return fmt.Errorf("MAX_DEVICES must not be negative")
	}
	if len(c.Pipeline.Channels) == 0 {
		return fmt.Errorf("SENSOR_CHANNELS must name at least one channel")
	}
	seen := make(map[string]bool, len(c.Pipeline.Channels))
	for _, ch := range c.Pipeline.Channels {
		if seen[ch] {
			return fmt.Errorf("SENSOR_CHANNELS lists %q twice", ch)
		}
		seen[ch] = true
	}
	return nil
}

func (c *Config) validateScoring() error {
	if !c.Scoring.FallbackEnabled {
		return nil
	}
	if c.Scoring.ForestTrees < 1 {
		return fmt.Errorf("FOREST_TREES must be positive")
	}
	if c.Scoring.ForestSampleSize < 2 {
		return fmt.Errorf("FOREST_SAMPLE_SIZE must be at least 2")
	}
	return nil
}

func (c *Config) validateStorage() error {
	if !validStorageDrivers[c.Storage.Driver] {
		return fmt.Errorf("STORAGE_DRIVER must be one of: memory, duckdb")
	}
	if c.Storage.Driver == "duckdb" && c.Storage.DuckDBPath == "" {
		return fmt.Errorf("DUCKDB_PATH is required when STORAGE_DRIVER=duckdb")
	}
	o := c.Storage.Outbox
	if !o.Enabled {
		return nil
	}
	if o.Path == "" {
		return fmt.Errorf("OUTBOX_PATH is required when OUTBOX_ENABLED=true")
	}
	if o.RetryInterval <= 0 || o.MaxBackoff < o.RetryInterval {
		return fmt.Errorf("OUTBOX_MAX_BACKOFF must be >= OUTBOX_RETRY_INTERVAL > 0")
	}
	return nil
}

func (c *Config) validateNotify() error {
	if !c.Notify.Enabled {
		return nil
	}
	if !c.Notify.NATS.Enabled && !c.Notify.Webhook.Enabled {
		return fmt.Errorf("NOTIFY_ENABLED=true requires NATS_ENABLED or WEBHOOK_ENABLED")
	}
	if c.Notify.NATS.Enabled {
		if err := validateNATSURL(c.Notify.NATS.URL); err != nil {
			return fmt.Errorf("NATS_URL is invalid: %w", err)
		}
		if c.Notify.NATS.SubjectPrefix == "" {
			return fmt.Errorf("NATS_SUBJECT_PREFIX is required when NATS_ENABLED=true")
		}
	}
	if c.Notify.Webhook.Enabled {
		if err := validateHTTPURL(c.Notify.Webhook.URL); err != nil {
			return fmt.Errorf("WEBHOOK_URL is invalid: %w", err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// validateHTTPURL accepts http(s) URLs with a host. Paths are allowed since
// webhook endpoints usually carry one.
func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func validateNATSURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[u.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required (e.g., localhost:4222)")
	}
	return nil
}
