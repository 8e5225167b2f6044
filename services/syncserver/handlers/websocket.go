// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianSync/services/syncserver/hub"
	"github.com/AleutianAI/AleutianSync/services/syncserver/observability"
)

// maxClientMessage bounds inbound frames. Clients only send control frames.
const maxClientMessage = 512

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// SyncDeps bundles what the sync endpoints need.
type SyncDeps struct {
	Hub *hub.Hub

	// Limiter throttles websocket upgrades. Nil disables throttling.
	Limiter *rate.Limiter

	// PongWait is how long a session may stay silent before its read side
	// times out. Zero disables the deadline.
	PongWait time.Duration

	Metrics *observability.SyncMetrics
	Logger  *slog.Logger
	Started time.Time
}

// HandleSyncWebSocket handles GET /v1/sync/ws.
//
// # Description
//
// Upgrades the connection and attaches it to the hub, which sends the
// welcome frame and all later change frames. This goroutine only reads:
// it answers pings, extends the deadline on pongs and detaches the
// session when the socket closes. Anything the client sends is discarded.
//
// Responds 503 without upgrading when the limiter has no tokens.
//
// # Thread Safety
//
// One goroutine per connection.
func HandleSyncWebSocket(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := deps.Logger
		if logger == nil {
			logger = slog.Default()
		}

		if deps.Limiter != nil && !deps.Limiter.Allow() {
			deps.Metrics.RecordUpgradeRejected()
			c.Header("Retry-After", "1")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many connection attempts"})
			return
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("failed to upgrade the websocket", "error", err)
			return
		}

		session, err := deps.Hub.Attach(ws)
		if err != nil {
			logger.Warn("hub refused session", "error", err)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			ws.Close()
			return
		}
		defer deps.Hub.Detach(session.ID())

		ws.SetReadLimit(maxClientMessage)
		if deps.PongWait > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(deps.PongWait))
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(time.Now().Add(deps.PongWait))
			})
		}

		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket read ended", "connection_id", session.ID(), "error", err)
				}
				return
			}
		}
	}
}

// SyncStats is the body of GET /v1/sync/stats.
type SyncStats struct {
	hub.Stats
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HandleSyncStats handles GET /v1/sync/stats.
func HandleSyncStats(deps SyncDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, SyncStats{
			Stats:         deps.Hub.Stats(),
			UptimeSeconds: time.Since(deps.Started).Seconds(),
		})
	}
}

// HandleHealth handles GET /health.
func HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
