// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

/*
Package main is the entry point for the EdgeWatch server.

EdgeWatch receives sensor telemetry from edge devices, keeps a sliding
window per device, scores each full window for anomalies and raises
alerts that operators confirm or reject.

# Application Architecture

	RootSupervisor ("edgewatch")
	├── DataSupervisor ("data-layer")
	│   └── Outbox drain (storage.outbox.enabled)
	├── MessagingSupervisor ("messaging-layer")
	│   ├── Embedded NATS server (notify.nats.embedded_server)
	│   └── WebSocket Hub (live alerts for operators)
	└── APISupervisor ("api-layer")
	    └── HTTP Server

Component initialization order:

 1. Configuration: Koanf v2 with defaults, config.yaml and environment
 2. Logging: zerolog with JSON/console output modes
 3. Storage: in-memory or DuckDB, optionally behind the BadgerDB outbox
 4. Scoring: neural model, isolation forest fallback, null scorer
 5. Alert policy and notifiers (NATS, webhook, WebSocket)
 6. HTTP Server: Chi router with middleware stack
 7. Supervisor Tree: Suture v4 process supervision

# Endpoints

	POST /api/v1/telemetry       device ingestion (API key)
	GET  /api/v1/model           scoring setup
	GET  /api/v1/alerts          alert list (operator)
	POST /api/v1/alerts/confirm  operator verdict (operator)
	GET  /api/v1/ws              live alert stream (operator)
	GET  /api/v1/health/live
	GET  /api/v1/health/ready
	GET  /metrics

# Example Usage

	export API_KEY=$(openssl rand -hex 32)
	export SENSOR_CHANNELS=vib,temp
	export WINDOW_SIZE=10
	./edgewatch

# Signal Handling

SIGINT and SIGTERM cancel the supervisor tree. The HTTP server drains
in-flight requests, pending notifications finish, and the outbox makes a
final drain attempt before storage is closed.
*/
package main
