// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

/*
Package websocket streams alerts and operator confirmations to live
dashboard sessions.

A single Hub owns the set of connected clients. The alert policy calls
Hub.BroadcastJSON; the hub fans each message out to every client's send
buffer in client-ID order. A client whose buffer is full is dropped rather
than allowed to stall the others.

	┌──────────┐
	│   Hub    │ ← BroadcastJSON("alert" | "confirmation", ...)
	└────┬─────┘
	     │
	┌────┴─────┬─────────┐
	│ Client1  │ Client2 │ ...
	└──────────┴─────────┘

Each client runs a readPump (ping/pong and close detection) and a
writePump (JSON frames plus keepalive pings).

Message Types:

  - alert: a newly raised anomaly alert
  - confirmation: an operator verdict
  - ping / pong: application-level keepalive

The hub is a suture service: Serve blocks until its context is cancelled
and then closes every client.
*/
package websocket
