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
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// SyncPath is the server's websocket endpoint.
const SyncPath = "/v1/sync/ws"

// Conn is one established transport connection.
//
// *websocket.Conn satisfies it. Tests substitute in-memory fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// Dialer opens a transport connection. Dial must honour ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// WebSocketURL derives the sync endpoint from the server's HTTP base URL.
//
// http becomes ws and https becomes wss. Any path on serverURL is kept as a
// prefix.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server url %q has no host", serverURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + SyncPath
	return u.String(), nil
}

// websocketDialer dials the sync endpoint with gorilla/websocket.
type websocketDialer struct {
	url         string
	dialer      *websocket.Dialer
	readTimeout time.Duration
}

// NewWebSocketDialer returns a Dialer for the server at serverURL.
//
// # Inputs
//
//   - serverURL: HTTP base URL, e.g. http://localhost:12310
//   - readTimeout: How long the connection may stay silent. The server
//     pings periodically and every ping extends the deadline. Zero disables.
func NewWebSocketDialer(serverURL string, readTimeout time.Duration) (Dialer, error) {
	wsURL, err := WebSocketURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &websocketDialer{
		url: wsURL,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		readTimeout: readTimeout,
	}, nil
}

func (d *websocketDialer) Dial(ctx context.Context) (Conn, error) {
	ws, resp, err := d.dialer.DialContext(ctx, d.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	if d.readTimeout <= 0 {
		return ws, nil
	}
	c := &deadlineConn{Conn: ws, timeout: d.readTimeout}
	c.extend()
	ws.SetPingHandler(func(appData string) error {
		c.extend()
		err := ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return c, nil
}

// deadlineConn extends the read deadline on every frame and every ping.
type deadlineConn struct {
	*websocket.Conn
	timeout time.Duration
}

func (c *deadlineConn) extend() {
	_ = c.SetReadDeadline(time.Now().Add(c.timeout))
}

func (c *deadlineConn) ReadMessage() (int, []byte, error) {
	mt, p, err := c.Conn.ReadMessage()
	if err == nil {
		c.extend()
	}
	return mt, p, err
}
