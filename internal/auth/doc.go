// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

// Package auth resolves operator identity for the confirm and alert routes
// and extracts the device credential from ingestion requests.
//
// Operators authenticate with HS256 bearer tokens whose subject is the
// operator ID. When no signing secret is configured, the X-Operator-ID
// header is trusted instead; that mode is meant for single-site
// deployments behind an authenticating proxy.
package auth
