// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/edgewatch/internal/auth"
	ws "github.com/tomtom215/edgewatch/internal/websocket"
)

func TestWebSocket_StreamsAlerts(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.hub.Serve(ctx) }()

	server := httptest.NewServer(env.handler)
	defer server.Close()

	header := http.Header{}
	header.Set("Origin", server.URL)
	header.Set(auth.HeaderOperatorID, "operator-1")
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status = %d, want 101", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	for i, vib := range []float64{0, 999} {
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/v1/telemetry",
			strings.NewReader(reading("unit_a", int64(i+1), vib)))
		req.Header.Set("Authorization", "Bearer "+deviceSecret)
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST telemetry error = %v", err)
		}
		r.Body.Close()
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string `json:"type"`
		Data struct {
			DeviceID string  `json:"device"`
			Score    float64 `json:"score"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if msg.Type != ws.MessageTypeAlert || msg.Data.DeviceID != "unit_a" || msg.Data.Score != 0.9 {
		t.Errorf("message = %+v", msg)
	}
}

func TestWebSocket_RequiresOperator(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	server := httptest.NewServer(env.handler)
	defer server.Close()

	header := http.Header{}
	header.Set("Origin", server.URL)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("Dial() succeeded without operator identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestCheckWebSocketOrigin(t *testing.T) {
	h := NewHandler(nil, nil, HandlerConfig{CORSOrigins: []string{"https://ops.example"}})

	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"missing origin", "edge.local", "", false},
		{"same host", "edge.local:8080", "http://edge.local:8080", true},
		{"configured origin", "edge.local", "https://ops.example", true},
		{"foreign origin", "edge.local", "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := h.checkWebSocketOrigin(r); got != tt.want {
				t.Errorf("checkWebSocketOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}
