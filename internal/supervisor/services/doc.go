// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

/*
Package services adapts EdgeWatch components to suture v4's Serve pattern.

  - HTTPServerService: ListenAndServe plus graceful Shutdown
  - LoopService: any blocking Run(ctx) loop, such as the outbox drain

The websocket hub and the embedded NATS server implement suture.Service
themselves and are added to the tree directly.
*/
package services
