// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package detection applies the alert policy to scored windows.
//
// Flow:
//
//	Evaluation -> Policy.Evaluate -> WindowSummary (always)
//	                    |
//	                    v  score >= threshold
//	                  Alert -> Store, Notifiers (NATS, webhook), WebSocket
//
// Every ready window is evaluated on its own: there is no deduplication or
// cooldown, so a persistent anomaly yields one alert per window. Operators
// confirm or reject alerts by (device, ts); a confirmation with no matching
// alert is still recorded.
//
// Persistence and notification are best-effort from the ingest path: errors
// are logged and counted in Prometheus, never returned to the device.
package detection
