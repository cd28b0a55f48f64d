// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the config file locations searched in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/edgewatch/config.yaml",
	"/etc/edgewatch/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultChannels are the sensor channels observed on door and patrol units.
var DefaultChannels = []string{"vib", "gas", "pir", "temp", "people", "water", "humidity"}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			OperatorTokenTTL: 12 * time.Hour,
			RateLimitReqs:    600,
			RateLimitWindow:  time.Minute,
			CORSOrigins:      []string{},
		},
		Pipeline: PipelineConfig{
			WindowSize:       12,
			AnomalyThreshold: 0.5,
			MaxDevices:       10000,
			Channels:         append([]string(nil), DefaultChannels...),
		},
		Scoring: ScoringConfig{
			ModelPath:        "",
			FallbackEnabled:  true,
			ForestPath:       "",
			ForestTrees:      100,
			ForestSampleSize: 256,
			Seed:             42,
		},
		Storage: StorageConfig{
			Driver:     "memory",
			DuckDBPath: "/data/edgewatch.duckdb",
			Outbox: OutboxConfig{
				Enabled:       false,
				Path:          "/data/outbox",
				RetryInterval: 5 * time.Second,
				MaxBackoff:    5 * time.Minute,
				MaxAttempts:   20,
			},
		},
		Notify: NotifyConfig{
			Enabled: false,
			Timeout: 5 * time.Second,
			NATS: NATSConfig{
				Enabled:        false,
				URL:            "nats://127.0.0.1:4222",
				EmbeddedServer: false,
				EmbeddedPort:   4222,
				SubjectPrefix:  "edgewatch.alerts",
			},
			Webhook: WebhookConfig{
				RateLimitMs: 1000,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadWithKoanf layers defaults, the optional YAML file and environment
// variables, then validates the result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"security.cors_origins",
	"pipeline.channels",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envTransformFunc maps environment variable names onto koanf paths.
// Unmapped variables return "" and are skipped.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_port":        "server.port",
		"http_host":        "server.host",
		"http_timeout":     "server.timeout",
		"shutdown_timeout": "server.shutdown_timeout",

		"api_key":             "security.api_key",
		"operator_jwt_secret": "security.operator_jwt_secret",
		"operator_token_ttl":  "security.operator_token_ttl",
		"rate_limit_reqs":     "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",

		"window_size":       "pipeline.window_size",
		"anomaly_threshold": "pipeline.anomaly_threshold",
		"max_devices":       "pipeline.max_devices",
		"sensor_channels":   "pipeline.channels",

		"model_path":         "scoring.model_path",
		"fallback_enabled":   "scoring.fallback_enabled",
		"forest_path":        "scoring.forest_path",
		"forest_trees":       "scoring.forest_trees",
		"forest_sample_size": "scoring.forest_sample_size",
		"scoring_seed":       "scoring.seed",

		"storage_driver":        "storage.driver",
		"duckdb_path":           "storage.duckdb_path",
		"outbox_enabled":        "storage.outbox.enabled",
		"outbox_path":           "storage.outbox.path",
		"outbox_retry_interval": "storage.outbox.retry_interval",
		"outbox_max_backoff":    "storage.outbox.max_backoff",
		"outbox_max_attempts":   "storage.outbox.max_attempts",

		"notify_enabled":        "notify.enabled",
		"notify_timeout":        "notify.timeout",
		"nats_enabled":          "notify.nats.enabled",
		"nats_url":              "notify.nats.url",
		"nats_embedded":         "notify.nats.embedded_server",
		"nats_embedded_port":    "notify.nats.embedded_port",
		"nats_subject_prefix":   "notify.nats.subject_prefix",
		"webhook_enabled":       "notify.webhook.enabled",
		"webhook_url":           "notify.webhook.url",
		"webhook_rate_limit_ms": "notify.webhook.rate_limit_ms",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
