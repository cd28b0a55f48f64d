// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package detection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors surfaced by stores and notifiers. The policy logs and counts them;
// they never reach the ingesting caller.
var (
	ErrPersistence  = errors.New("persistence failed")
	ErrNotification = errors.New("notification failed")
)

// ConfirmationState is an alert's operator review state.
type ConfirmationState string

const (
	StateUnconfirmed ConfirmationState = "unconfirmed"
	StateConfirmed   ConfirmationState = "confirmed"
	StateRejected    ConfirmationState = "rejected"
)

// Valid reports whether s is a known state.
func (s ConfirmationState) Valid() bool {
	switch s {
	case StateUnconfirmed, StateConfirmed, StateRejected:
		return true
	}
	return false
}

// StateFor maps an operator verdict to a confirmation state.
func StateFor(confirmed bool) ConfirmationState {
	if confirmed {
		return StateConfirmed
	}
	return StateRejected
}

// Alert is raised when a window's score reaches the threshold. Confirmation
// fields are the only ones that change after creation.
type Alert struct {
	ID           uuid.UUID         `json:"id"`
	DeviceID     string            `json:"device"`
	Timestamp    int64             `json:"ts"`
	Score        float64           `json:"score"`
	ModelVersion string            `json:"model_version"`
	Confirmation ConfirmationState `json:"confirmation"`
	ConfirmedBy  string            `json:"confirmed_by,omitempty"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// WindowSummary is persisted for every scored window, alert or not.
type WindowSummary struct {
	DeviceID     string    `json:"device"`
	Timestamp    int64     `json:"ts"`
	FeatureNames []string  `json:"feature_names"`
	Features     []float64 `json:"features"`
	Score        float64   `json:"score"`
	ModelVersion string    `json:"model_version"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// Confirmation is an operator verdict keyed by (DeviceID, Timestamp).
// AlertFound is filled in by the store.
type Confirmation struct {
	DeviceID    string    `json:"device"`
	Timestamp   int64     `json:"ts"`
	Confirmed   bool      `json:"confirmed"`
	OperatorID  string    `json:"operator_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
	AlertFound  bool      `json:"alert_found"`
}

// AlertFilter narrows ListAlerts. Zero values match everything.
type AlertFilter struct {
	DeviceID string            `json:"device,omitempty"`
	State    ConfirmationState `json:"state,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// DefaultListLimit caps ListAlerts when the filter sets no limit.
const DefaultListLimit = 100

// Store persists window summaries, alerts and confirmations.
type Store interface {
	// WriteWindowSummary records one scored window.
	WriteWindowSummary(ctx context.Context, summary WindowSummary) error

	// WriteAlert records a new alert.
	WriteAlert(ctx context.Context, alert *Alert) error

	// WriteConfirmation records an operator verdict and applies it to the
	// matching alerts, if any. The returned copy has AlertFound set.
	WriteConfirmation(ctx context.Context, c Confirmation) (Confirmation, error)

	// ListAlerts returns alerts newest first.
	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)
}

// Notifier sends alerts to external systems.
type Notifier interface {
	// Send delivers an alert to the notification channel.
	Send(ctx context.Context, alert *Alert) error

	// Name returns the notifier name (e.g., "nats", "webhook").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool
}

// AlertBroadcaster pushes alerts to live operator sessions.
type AlertBroadcaster interface {
	BroadcastJSON(messageType string, data interface{})
}

// AlertEvent is the notification payload published for each alert.
type AlertEvent struct {
	AlertID      string  `json:"alert_id"`
	DeviceID     string  `json:"device"`
	Timestamp    int64   `json:"ts"`
	Score        float64 `json:"score"`
	ModelVersion string  `json:"model_version"`
}

// EventFor builds the notification payload for a.
func EventFor(a *Alert) AlertEvent {
	return AlertEvent{
		AlertID:      a.ID.String(),
		DeviceID:     a.DeviceID,
		Timestamp:    a.Timestamp,
		Score:        a.Score,
		ModelVersion: a.ModelVersion,
	}
}
