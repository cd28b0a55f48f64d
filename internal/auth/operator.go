// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tomtom215/edgewatch/internal/validation"
)

// Header names
const (
	HeaderAPIKey     = "X-API-Key"
	HeaderOperatorID = "X-Operator-ID"
)

// ErrNoOperator is returned when a request carries no operator identity.
var ErrNoOperator = errors.New("operator identity required")

type contextKey string

const operatorKey contextKey = "operator_id"

// ContextWithOperator stores the resolved operator ID.
func ContextWithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorKey, operatorID)
}

// OperatorFromContext returns the operator ID, or "" if none was resolved.
func OperatorFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(operatorKey).(string); ok {
		return id
	}
	return ""
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// DeviceToken returns the ingestion credential: the bearer token, falling
// back to the X-API-Key header.
func DeviceToken(r *http.Request) string {
	if token := BearerToken(r); token != "" {
		return token
	}
	return r.Header.Get(HeaderAPIKey)
}

// OperatorResolver identifies the operator behind a request.
type OperatorResolver struct {
	jwt *JWTManager
}

// NewOperatorResolver returns a resolver. With a nil manager the
// X-Operator-ID header is trusted.
func NewOperatorResolver(m *JWTManager) *OperatorResolver {
	return &OperatorResolver{jwt: m}
}

// TokensEnabled reports whether operator tokens are required.
func (o *OperatorResolver) TokensEnabled() bool {
	return o.jwt != nil
}

// Resolve returns the operator ID for r.
func (o *OperatorResolver) Resolve(r *http.Request) (string, error) {
	if o.jwt != nil {
		token := BearerToken(r)
		if token == "" {
			return "", ErrNoOperator
		}
		claims, err := o.jwt.ValidateToken(token)
		if err != nil {
			return "", err
		}
		return claims.OperatorID(), nil
	}

	id := strings.TrimSpace(r.Header.Get(HeaderOperatorID))
	if id == "" {
		return "", ErrNoOperator
	}
	if err := validation.ValidateOperatorID(id); err != nil {
		return "", err
	}
	return id, nil
}
