// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/edgewatch/internal/auth"
	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/validation"
)

// MaxListLimit caps the alerts listing.
const MaxListLimit = 1000

// Verdict decodes a JSON boolean, or the integers 0 and 1.
type Verdict bool

// UnmarshalJSON implements json.Unmarshaler.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "true", "1":
		*v = true
	case "false", "0":
		*v = false
	default:
		return fmt.Errorf("confirmed must be a boolean or 0/1, got %s", data)
	}
	return nil
}

// ConfirmRequest is the body of POST /alerts/confirm.
type ConfirmRequest struct {
	Device    string   `json:"device" validate:"required,deviceid"`
	Timestamp *int64   `json:"ts" validate:"required"`
	Confirmed *Verdict `json:"confirmed" validate:"required"`
}

// ConfirmAlert records an operator verdict for (device, ts). It answers 200
// whether or not a matching alert exists; data.alert_found says which.
func (h *Handler) ConfirmAlert(w http.ResponseWriter, r *http.Request) {
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

	var req ConfirmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		rw.MalformedInput("confirmation body could not be parsed", map[string]string{"reason": err.Error()})
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		apiErr := verr.ToAPIError()
		rw.ValidationError(apiErr.Message, apiErr.Details)
		return
	}

	operatorID := auth.OperatorFromContext(r.Context())
	c := h.svc.Confirm(r.Context(), req.Device, *req.Timestamp, operatorID, bool(*req.Confirmed))
	rw.Success(c)
}

// ListAlerts returns alerts newest first, filtered by device, state and
// limit query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	q := r.URL.Query()

	filter := detection.AlertFilter{
		DeviceID: q.Get("device"),
		State:    detection.ConfirmationState(q.Get("state")),
	}
	if filter.DeviceID != "" {
		if err := validation.GetValidator().Var(filter.DeviceID, "deviceid"); err != nil {
			rw.ValidationError("device must be 1-128 printable characters without whitespace", map[string]string{"field": "device"})
			return
		}
	}
	if filter.State != "" && !filter.State.Valid() {
		rw.ValidationError("state must be one of: unconfirmed confirmed rejected", map[string]string{"field": "state"})
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			rw.ValidationError(fmt.Sprintf("limit must be an integer between 1 and %d", MaxListLimit), map[string]string{"field": "limit"})
			return
		}
		filter.Limit = limit
	}

	alerts, err := h.svc.ListAlerts(r.Context(), filter)
	if err != nil {
		rw.Error(http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "alert store unavailable")
		return
	}
	if alerts == nil {
		alerts = []detection.Alert{}
	}
	rw.SuccessList(alerts, len(alerts))
}
