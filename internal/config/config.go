// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package config loads EdgeWatch configuration.
//
// Loading order (Koanf v2):
//  1. Defaults from defaultConfig()
//  2. Optional YAML file (CONFIG_PATH or the DefaultConfigPaths)
//  3. Environment variables mapped through envTransformFunc
//
// Example config.yaml:
//
//	pipeline:
//	  window_size: 12
//	  anomaly_threshold: 0.5
//	scoring:
//	  model_path: /models/autoencoder.json
//	  fallback_enabled: true
//	security:
//	  api_key: change-me
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Scoring  ScoringConfig  `koanf:"scoring"`
	Storage  StorageConfig  `koanf:"storage"`
	Notify   NotifyConfig   `koanf:"notify"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// SecurityConfig holds the ingestion credential and operator auth settings.
type SecurityConfig struct {
	// APIKey is the shared secret every device presents on ingestion.
	APIKey string `koanf:"api_key"`

	// OperatorJWTSecret enables HS256 operator tokens on the confirm and
	// alert routes. When empty, operators identify with X-Operator-ID.
	OperatorJWTSecret string        `koanf:"operator_jwt_secret"`
	OperatorTokenTTL  time.Duration `koanf:"operator_token_ttl"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// PipelineConfig drives the window buffer and alert policy.
type PipelineConfig struct {
	WindowSize       int      `koanf:"window_size"`
	AnomalyThreshold float64  `koanf:"anomaly_threshold"`
	MaxDevices       int      `koanf:"max_devices"` // 0 = never evict
	Channels         []string `koanf:"channels"`
}

// ScoringConfig selects and parameterises the scoring chain.
type ScoringConfig struct {
	ModelPath       string `koanf:"model_path"`
	FallbackEnabled bool   `koanf:"fallback_enabled"`

	ForestPath       string `koanf:"forest_path"`
	ForestTrees      int    `koanf:"forest_trees"`
	ForestSampleSize int    `koanf:"forest_sample_size"`
	Seed             int64  `koanf:"seed"`
}

// StorageConfig selects the persistence collaborator.
type StorageConfig struct {
	// Driver is memory or duckdb.
	Driver     string `koanf:"driver"`
	DuckDBPath string `koanf:"duckdb_path"`

	Outbox OutboxConfig `koanf:"outbox"`
}

// OutboxConfig configures the badger-backed retry queue in front of the store.
type OutboxConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Path          string        `koanf:"path"`
	RetryInterval time.Duration `koanf:"retry_interval"`
	MaxBackoff    time.Duration `koanf:"max_backoff"`
	MaxAttempts   int           `koanf:"max_attempts"`
}

// NotifyConfig holds the optional alert notification targets.
type NotifyConfig struct {
	Enabled bool          `koanf:"enabled"`
	Timeout time.Duration `koanf:"timeout"`
	NATS    NATSConfig    `koanf:"nats"`
	Webhook WebhookConfig `koanf:"webhook"`
}

// NATSConfig configures the alert publisher.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	EmbeddedPort   int    `koanf:"embedded_port"`
	SubjectPrefix  string `koanf:"subject_prefix"`
}

// WebhookConfig configures the HTTP webhook notifier.
type WebhookConfig struct {
	Enabled     bool              `koanf:"enabled"`
	URL         string            `koanf:"url"`
	Headers     map[string]string `koanf:"headers"`
	RateLimitMs int               `koanf:"rate_limit_ms"`
}

// LoggingConfig holds zerolog settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Load reads configuration from defaults, file and environment.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
