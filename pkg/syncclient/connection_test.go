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
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// =============================================================================
// Test Helpers
// =============================================================================

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is an in-memory transport connection fed by the test.
type fakeConn struct {
	frames    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, data, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) send(t *testing.T, frame datatypes.Frame) {
	t.Helper()
	data, err := datatypes.EncodeFrame(frame)
	require.NoError(t, err)
	f.frames <- data
}

// drop simulates the server going away.
func (f *fakeConn) drop() { close(f.frames) }

// fakeDialer hands out connections queued by the test.
type fakeDialer struct {
	conns chan *fakeConn
	dials atomic.Int32
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 4)}
}

func (d *fakeDialer) Dial(ctx context.Context) (Conn, error) {
	d.dials.Add(1)
	select {
	case c := <-d.conns:
		if c == nil {
			return nil, errors.New("connection refused")
		}
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// recordingListener captures callbacks.
type recordingListener struct {
	mu     sync.Mutex
	states []ConnectionState
	ids    []string
	events []datatypes.ChangeEvent
}

func (l *recordingListener) StateChanged(state ConnectionState, connectionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
	if connectionID != "" {
		l.ids = append(l.ids, connectionID)
	}
}

func (l *recordingListener) EventReceived(event datatypes.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *recordingListener) snapshot() ([]ConnectionState, []datatypes.ChangeEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionState(nil), l.states...), append([]datatypes.ChangeEvent(nil), l.events...)
}

func newTestManager(d Dialer, l Listener) *ConnectionManager {
	return NewConnectionManager(ManagerConfig{
		Dialer:         d,
		Listener:       l,
		InitialBackoff: time.Hour,
		MaxBackoff:     time.Hour,
		Logger:         discardLogger(),
	})
}

func runManager(m *ConnectionManager) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	return done
}

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestConnectionManager_ConnectedOnWelcome(t *testing.T) {
	d := newFakeDialer()
	l := &recordingListener{}
	m := newTestManager(d, l)
	done := runManager(m)
	defer func() {
		m.Stop()
		assert.ErrorIs(t, waitErr(t, done), ErrStopped)
	}()

	conn := newFakeConn()
	d.conns <- conn
	require.Eventually(t, func() bool { return d.dials.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, m.State())

	conn.send(t, datatypes.WelcomeFrame("conn-1"))
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)

	l.mu.Lock()
	assert.Equal(t, []string{"conn-1"}, l.ids)
	l.mu.Unlock()
}

func TestConnectionManager_InvalidFramesAreSkipped(t *testing.T) {
	d := newFakeDialer()
	l := &recordingListener{}
	m := newTestManager(d, l)
	done := runManager(m)
	defer func() {
		m.Stop()
		waitErr(t, done)
	}()

	conn := newFakeConn()
	d.conns <- conn
	conn.send(t, datatypes.WelcomeFrame("conn-1"))

	conn.frames <- []byte(`not json`)
	conn.frames <- []byte(`{"type":"mystery"}`)
	conn.frames <- []byte(`{"type":"change","event":{"kind":"deleted","id":1,"payload":{"id":1},"emitted_at":"2025-06-01T12:00:00Z"}}`)
	good := datatypes.NewCreated(task(1, "A", datatypes.StatusPending, 0))
	conn.send(t, datatypes.ChangeFrame(good))

	require.Eventually(t, func() bool {
		_, events := l.snapshot()
		return len(events) == 1
	}, time.Second, 5*time.Millisecond)

	_, events := l.snapshot()
	assert.Equal(t, good.EventID, events[0].EventID)
	assert.Equal(t, int32(1), d.dials.Load(), "invalid frames must not drop the connection")
}

func TestConnectionManager_ReconnectsImmediatelyAfterDrop(t *testing.T) {
	d := newFakeDialer()
	l := &recordingListener{}
	m := newTestManager(d, l)
	done := runManager(m)
	defer func() {
		m.Stop()
		waitErr(t, done)
	}()

	first := newFakeConn()
	d.conns <- first
	first.send(t, datatypes.WelcomeFrame("conn-1"))
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)

	first.drop()
	require.Eventually(t, func() bool { return d.dials.Load() == 2 }, time.Second, 5*time.Millisecond)

	second := newFakeConn()
	d.conns <- second
	second.send(t, datatypes.WelcomeFrame("conn-2"))
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)

	states, _ := l.snapshot()
	assert.Equal(t, []ConnectionState{
		StateConnecting, StateConnected,
		StateReconnecting, StateConnecting, StateConnected,
	}, states)
}

func TestConnectionManager_StopCancelsBackoff(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &recordingListener{})
	done := runManager(m)

	// Never connected: the immediate retry is spent, then the hour-long
	// backoff begins.
	d.conns <- nil
	d.conns <- nil
	require.Eventually(t, func() bool {
		return d.dials.Load() == 2 && m.State() == StateReconnecting
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	assert.ErrorIs(t, waitErr(t, done), ErrStopped)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestConnectionManager_StopDuringDialAndRead(t *testing.T) {
	d := newFakeDialer()
	m := newTestManager(d, &recordingListener{})
	done := runManager(m)

	require.Eventually(t, func() bool { return d.dials.Load() == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()
	assert.ErrorIs(t, waitErr(t, done), ErrStopped)

	// A connected manager closes its transport on Stop.
	d2 := newFakeDialer()
	m2 := newTestManager(d2, &recordingListener{})
	done2 := runManager(m2)
	conn := newFakeConn()
	d2.conns <- conn
	conn.send(t, datatypes.WelcomeFrame("conn-1"))
	require.Eventually(t, func() bool { return m2.State() == StateConnected }, time.Second, 5*time.Millisecond)

	m2.Stop()
	assert.ErrorIs(t, waitErr(t, done2), ErrStopped)
	select {
	case <-conn.closed:
	default:
		t.Error("transport was not closed on Stop")
	}
}

func TestConnectionManager_StopBeforeRun(t *testing.T) {
	m := newTestManager(newFakeDialer(), nil)
	m.Stop()
	m.Stop()
	assert.ErrorIs(t, m.Run(context.Background()), ErrStopped)
}

func TestConnectionManager_ContextCancel(t *testing.T) {
	m := newTestManager(newFakeDialer(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	assert.ErrorIs(t, waitErr(t, done), context.Canceled)
	assert.Equal(t, StateDisconnected, m.State())
}
