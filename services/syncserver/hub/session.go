// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the write side of a websocket connection.
//
// *websocket.Conn satisfies it. Only the session's writer goroutine calls
// WriteMessage.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one connected client.
//
// # Description
//
// A session owns a bounded outbound queue drained by a single writer
// goroutine, so frames reach the socket in enqueue order and a slow client
// never blocks the publisher. When the queue is full or a write fails the
// session is reported to its owner via onFailure and closed.
//
// # Thread Safety
//
// enqueue and Close are safe for concurrent use.
type Session struct {
	id     string
	conn   Conn
	send   chan []byte
	done   chan struct{}
	logger *slog.Logger

	pingInterval time.Duration
	writeTimeout time.Duration
	onFailure    func(*Session, error)

	closeOnce sync.Once
	writerWG  sync.WaitGroup
}

func newSession(id string, conn Conn, cfg Config, logger *slog.Logger, onFailure func(*Session, error)) *Session {
	return &Session{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, cfg.SessionBuffer),
		done:         make(chan struct{}),
		logger:       logger.With(slog.String("connection_id", id)),
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		onFailure:    onFailure,
	}
}

// ID returns the opaque connection identifier.
func (s *Session) ID() string {
	return s.id
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// start launches the writer goroutine.
func (s *Session) start() {
	s.writerWG.Add(1)
	go s.writeLoop()
}

// enqueue queues frame without blocking.
//
// # Outputs
//
//   - bool: false if the session is closed or its queue is full.
func (s *Session) enqueue(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- frame:
		return true
	default:
		return false
	}
}

// isClosed reports whether Close has run.
func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Close stops the writer and closes the connection. Safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// wait blocks until the writer goroutine has exited.
func (s *Session) wait() {
	s.writerWG.Wait()
}

func (s *Session) writeLoop() {
	defer s.writerWG.Done()

	var tick <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return

		case frame := <-s.send:
			if s.writeTimeout > 0 {
				_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.fail(err)
				return
			}

		case <-tick:
			deadline := time.Now().Add(s.pingDeadline())
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Session) pingDeadline() time.Duration {
	if s.writeTimeout > 0 {
		return s.writeTimeout
	}
	return 10 * time.Second
}

func (s *Session) fail(err error) {
	if s.isClosed() {
		return
	}
	s.logger.Debug("session write failed", slog.String("error", err.Error()))
	if s.onFailure != nil {
		s.onFailure(s, err)
	}
}
