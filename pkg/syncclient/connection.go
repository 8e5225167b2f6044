// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package syncclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// ErrStopped is returned once Stop has been called.
var ErrStopped = errors.New("syncclient: stopped")

// Listener receives everything the ConnectionManager observes.
//
// Calls are made from the manager's goroutine, one at a time, in order.
// Implementations must not block for long; the Client forwards each call
// onto its event loop.
type Listener interface {
	// StateChanged reports a transition. connectionID is set only for
	// StateConnected and is the ID from the server's welcome frame.
	StateChanged(state ConnectionState, connectionID string)

	// EventReceived delivers a validated change event.
	EventReceived(event datatypes.ChangeEvent)
}

// ManagerConfig configures a ConnectionManager.
type ManagerConfig struct {
	Dialer   Dialer
	Listener Listener

	// InitialBackoff is the second retry delay. The first is immediate.
	InitialBackoff time.Duration

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration

	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	Logger *slog.Logger
}

// ConnectionManager keeps one live transport connection open.
//
// # Description
//
// Run dials, reads frames until the connection drops, then waits out the
// backoff and dials again. Frames are decoded and validated here, so the
// Listener only ever sees well-formed events. Invalid frames are logged and
// skipped without dropping the connection.
//
// The manager enters StateConnected when the welcome frame arrives. At that
// point the server has registered the session, so a snapshot fetched after
// this transition misses nothing that later arrives live.
//
// # Thread Safety
//
// Run is called once. Stop and State are safe from any goroutine.
type ConnectionManager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu      sync.Mutex
	state   ConnectionState
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewConnectionManager builds a manager. Nothing is dialled until Run.
func NewConnectionManager(cfg ManagerConfig) *ConnectionManager {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ConnectionManager{
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *ConnectionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run maintains the connection until ctx is cancelled or Stop is called.
//
// # Outputs
//
//   - error: ErrStopped after Stop (including when Stop preceded Run),
//     otherwise ctx.Err().
func (m *ConnectionManager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	defer close(m.done)
	defer cancel()

	retry := newRetryBackoff(m.cfg.InitialBackoff, m.cfg.MaxBackoff, m.cfg.BackoffMultiplier)
	for {
		m.setState(StateConnecting, "")
		connected, err := m.session(ctx)
		if ctx.Err() != nil {
			break
		}
		if connected {
			retry.Reset()
		}

		delay := retry.Next()
		m.logger.Warn("sync connection lost, retrying",
			"error", err,
			"retry_in", delay.String())
		m.setState(StateReconnecting, "")
		if !sleepCtx(ctx, delay) {
			break
		}
	}

	m.setState(StateDisconnected, "")
	if m.isStopped() {
		return ErrStopped
	}
	return ctx.Err()
}

// Stop cancels any in-flight dial or retry timer, closes the connection and
// suppresses further retries. It blocks until Run has returned. Safe to call
// more than once, and before Run.
func (m *ConnectionManager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-m.done
}

func (m *ConnectionManager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

func (m *ConnectionManager) setState(state ConnectionState, connectionID string) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	m.mu.Unlock()

	m.logger.Debug("sync connection state", "state", state.String())
	if m.cfg.Listener != nil {
		m.cfg.Listener.StateChanged(state, connectionID)
	}
}

// session dials once and reads until the connection fails.
// connected reports whether the welcome frame was received.
func (m *ConnectionManager) session(ctx context.Context) (connected bool, err error) {
	conn, err := m.cfg.Dialer.Dial(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Unblocks ReadMessage on Stop.
	release := context.AfterFunc(ctx, func() { conn.Close() })
	defer release()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return connected, err
		}

		frame, err := datatypes.DecodeFrame(data)
		if err != nil {
			m.logger.Warn("skipping invalid sync frame", "error", err)
			continue
		}

		switch frame.Type {
		case datatypes.FrameWelcome:
			connected = true
			m.logger.Info("sync connected", "connection_id", frame.ConnectionID)
			m.setState(StateConnected, frame.ConnectionID)
		case datatypes.FrameChange:
			if m.cfg.Listener != nil {
				m.cfg.Listener.EventReceived(*frame.Event)
			}
		}
	}
}

// sleepCtx waits for d or ctx, reporting false when ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
