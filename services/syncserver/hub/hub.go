// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hub distributes task change events to connected websocket sessions.
//
// # Description
//
// After the store commits a mutation the HTTP handler calls one of the
// Notify methods. The hub encodes the event once and offers the frame to
// every session in the target group. Delivery is best effort: a session
// whose queue is full, or whose socket write fails, is disconnected. The
// client's reconnect-and-resync path repairs whatever it missed.
//
// Notify never blocks on a socket and never returns an error to the
// mutation path.
//
// # Thread Safety
//
// Hub is safe for concurrent use.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
	"github.com/AleutianAI/AleutianSync/pkg/telemetry"
	"github.com/AleutianAI/AleutianSync/services/syncserver/observability"
)

const tracerName = "syncserver.hub"

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("hub closed")

// Config configures a Hub.
type Config struct {
	// SessionBuffer is the per-session outbound queue length. Default: 256.
	SessionBuffer int

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// WriteTimeout bounds each socket write. Default: 10s.
	WriteTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observability.SyncMetrics
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		SessionBuffer: 256,
		PingInterval:  30 * time.Second,
		WriteTimeout:  10 * time.Second,
	}
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.SessionBuffer <= 0 {
		cfg.SessionBuffer = 256
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// Stats is a point-in-time summary of hub activity.
type Stats struct {
	ConnectedSessions int   `json:"connected_sessions"`
	EventsPublished   int64 `json:"events_published"`
	DeliveriesDropped int64 `json:"deliveries_dropped"`
}

// Hub fans change events out to registered sessions.
type Hub struct {
	cfg      Config
	registry *Registry
	logger   *slog.Logger
	metrics  *observability.SyncMetrics

	published atomic.Int64
	dropped   atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New creates a Hub.
func New(cfg Config) *Hub {
	cfg = applyConfigDefaults(cfg)
	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
}

// Registry exposes session membership.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Attach registers conn as a new session.
//
// # Description
//
// Assigns a fresh connection ID, joins DefaultGroup, then queues the
// welcome frame and starts the writer. A client that has read the welcome
// frame is therefore registered for every later publish.
//
// # Inputs
//
//   - conn: An upgraded websocket connection.
//
// # Outputs
//
//   - *Session: The attached session. Call Detach when the read side ends.
//   - error: ErrClosed after Close, or a frame encoding error.
func (h *Hub) Attach(conn Conn) (*Session, error) {
	id := uuid.New().String()
	welcome, err := datatypes.EncodeFrame(datatypes.WelcomeFrame(id))
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	s := newSession(id, conn, h.cfg, h.logger, h.onSessionFailure)
	h.registry.OnConnect(s)
	s.enqueue(welcome)
	s.start()
	h.metrics.SessionAttached()

	h.logger.Info("session attached", slog.String("connection_id", id))
	return s, nil
}

// Detach unregisters and closes the session with id.
//
// Unknown IDs are ignored, so Detach is safe to call after a drop.
func (h *Hub) Detach(id string) {
	s, ok := h.registry.Lookup(id)
	if !ok {
		return
	}
	h.remove(s)
	h.logger.Info("session detached", slog.String("connection_id", id))
}

// remove unregisters and closes s exactly once.
func (h *Hub) remove(s *Session) bool {
	if !h.registry.OnDisconnect(s) {
		s.Close()
		return false
	}
	h.metrics.SessionDetached()
	s.Close()
	return true
}

func (h *Hub) onSessionFailure(s *Session, err error) {
	if h.remove(s) {
		h.dropped.Add(1)
		h.metrics.RecordDrop(observability.DropWriteError)
		h.logger.Warn("session dropped after write failure",
			slog.String("connection_id", s.ID()),
			slog.String("error", err.Error()))
	}
}

// Publish broadcasts event to DefaultGroup.
func (h *Hub) Publish(ctx context.Context, event datatypes.ChangeEvent) int {
	return h.PublishTo(ctx, DefaultGroup, event)
}

// PublishTo broadcasts event to the sessions in group.
//
// # Description
//
// The frame is encoded once and offered to each member without blocking.
// Members whose queue is full are dropped. Events reach any one session in
// publish order because each session has a single FIFO writer.
//
// # Inputs
//
//   - ctx: Carries the caller's span. Not used for cancellation.
//   - group: Target group name.
//   - event: The committed change.
//
// # Outputs
//
//   - int: Number of sessions the frame was queued for.
func (h *Hub) PublishTo(ctx context.Context, group string, event datatypes.ChangeEvent) int {
	_, span := telemetry.StartSpan(ctx, tracerName, "Hub.Publish",
		trace.WithAttributes(
			attribute.String("event.kind", string(event.Kind)),
			attribute.Int64("task.id", event.ID),
			attribute.String("hub.group", group),
		),
	)
	defer span.End()

	frame, err := datatypes.EncodeFrame(datatypes.ChangeFrame(event))
	if err != nil {
		telemetry.RecordError(span, err)
		h.logger.Error("encode change frame", slog.String("error", err.Error()))
		return 0
	}

	targets := h.registry.Resolve(group)
	delivered := 0
	for _, s := range targets {
		if s.enqueue(frame) {
			delivered++
			continue
		}
		reason := observability.DropQueueFull
		if s.isClosed() {
			reason = observability.DropClosed
		}
		if h.remove(s) {
			h.dropped.Add(1)
			h.metrics.RecordDrop(reason)
			h.logger.Warn("session dropped",
				slog.String("connection_id", s.ID()),
				slog.String("reason", string(reason)),
				slog.String("event_id", event.EventID))
		}
	}

	h.published.Add(1)
	h.metrics.RecordPublish(string(event.Kind), len(targets))
	span.SetAttributes(attribute.Int("hub.delivered", delivered))
	telemetry.SetSpanOK(span)

	telemetry.LoggerWithTrace(ctx, h.logger).Debug("event published",
		slog.String("kind", string(event.Kind)),
		slog.Int64("task_id", event.ID),
		slog.Int("sessions", delivered))
	return delivered
}

// NotifyCreated publishes a created event for task.
func (h *Hub) NotifyCreated(ctx context.Context, task datatypes.Task) {
	h.Publish(ctx, datatypes.NewCreated(task))
}

// NotifyUpdated publishes an updated event for task.
func (h *Hub) NotifyUpdated(ctx context.Context, task datatypes.Task) {
	h.Publish(ctx, datatypes.NewUpdated(task))
}

// NotifyDeleted publishes a deleted event for id.
func (h *Hub) NotifyDeleted(ctx context.Context, id int64) {
	h.Publish(ctx, datatypes.NewDeleted(id))
}

// Stats returns current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		ConnectedSessions: h.registry.Count(),
		EventsPublished:   h.published.Load(),
		DeliveriesDropped: h.dropped.Load(),
	}
}

// Close disconnects every session and rejects further Attach calls.
// It waits for session writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	sessions := h.registry.All()
	for _, s := range sessions {
		h.remove(s)
	}
	for _, s := range sessions {
		s.wait()
	}
	h.logger.Info("hub closed", slog.Int("sessions", len(sessions)))
}
