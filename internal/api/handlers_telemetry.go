// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tomtom215/edgewatch/internal/auth"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/telemetry"
)

// Telemetry ingests one record.
//
// 200: the record was accepted; data is the pipeline Result, including
// warnings for recovered fields. 401: bad credential. 400 MALFORMED_INPUT:
// no usable record. 413: body too large.
func (h *Handler) Telemetry(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			rw.Error(http.StatusRequestEntityTooLarge, ErrCodePayloadTooLarge, "request body too large")
			return
		}
		rw.BadRequest("failed to read request body")
		return
	}

	res, err := h.svc.Ingest(r.Context(), auth.DeviceToken(r), body)
	switch {
	case err == nil:
		rw.Success(res)
	case errors.Is(err, telemetry.ErrUnauthenticated):
		logging.Ctx(r.Context()).Debug().Str("remote", r.RemoteAddr).Msg("Rejected unauthenticated telemetry")
		rw.Unauthenticated("invalid or missing device credential")
	case errors.Is(err, telemetry.ErrMalformedInput):
		var details interface{}
		var malformed *telemetry.MalformedInputError
		if errors.As(err, &malformed) {
			details = map[string]interface{}{"problems": malformed.Problems}
		}
		rw.MalformedInput("telemetry record could not be parsed", details)
	default:
		logging.Ctx(r.Context()).Error().Err(err).Msg("Telemetry ingest failed")
		rw.InternalError("ingest failed")
	}
}

// Model reports the active scoring setup.
func (h *Handler) Model(w http.ResponseWriter, r *http.Request) {
	NewResponseWriter(w, r).Success(h.svc.ModelInfo())
}
