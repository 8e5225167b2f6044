// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
	"github.com/AleutianAI/AleutianSync/pkg/telemetry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() Config {
	return Config{
		InMemory:     true,
		PingInterval: -1,
		Telemetry: telemetry.Config{
			ServiceName:    "syncserver-test",
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestService(t *testing.T) (Service, *httptest.Server) {
	t.Helper()
	svc, err := New(testConfig())
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
	})
	return svc, srv
}

func readChange(t *testing.T, ws *websocket.Conn) *datatypes.ChangeEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	f, err := datatypes.DecodeFrame(data)
	require.NoError(t, err)
	require.Equal(t, datatypes.FrameChange, f.Type)
	return f.Event
}

func TestApplyConfigDefaults(t *testing.T) {
	cfg := applyConfigDefaults(Config{})

	assert.Equal(t, 12310, cfg.Port)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 256, cfg.SessionBuffer)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, 50.0, cfg.UpgradeRate)
	assert.Equal(t, 100, cfg.UpgradeBurst)
	assert.NotNil(t, cfg.Logger)
}

func TestService_MutationReachesConnectedSocket(t *testing.T) {
	svc, srv := newTestService(t)

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/sync/ws", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer ws.Close()

	// welcome
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = ws.ReadMessage()
	require.NoError(t, err)
	require.Eventually(t, func() bool { return svc.Hub().Stats().ConnectedSessions == 1 }, time.Second, 5*time.Millisecond)

	body := bytes.NewBufferString(`{"title":"Buy milk"}`)
	resp, err = http.Post(srv.URL+"/v1/tasks", "application/json", body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ev := readChange(t, ws)
	assert.Equal(t, datatypes.KindCreated, ev.Kind)
	require.NotNil(t, ev.Payload)
	assert.Equal(t, "Buy milk", ev.Payload.Title)

	req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/tasks/%d", srv.URL, ev.ID), nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	ev = readChange(t, ws)
	assert.Equal(t, datatypes.KindDeleted, ev.Kind)
	assert.Nil(t, ev.Payload)
}

func TestService_MetricsEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Registry.MustRegister(collectors.NewGoCollector())
	svc, err := New(cfg)
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
	})

	resp, err := http.Get(srv.URL + "/v1/tasks")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, "aleutian_sync_sessions_connected")
	assert.Contains(t, text, "sync_http_requests_total")
	assert.Contains(t, text, "go_goroutines")
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := New(testConfig())
	require.NoError(t, err)
	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}

func TestService_RunStopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := testConfig()
	cfg.Port = port
	svc, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
