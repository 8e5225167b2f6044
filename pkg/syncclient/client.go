// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syncclient keeps a local copy of the task list in sync with the
// server.
//
// # Description
//
// A Client combines four parts:
//   - ConnectionManager: one websocket to /v1/sync/ws, reconnecting with
//     capped exponential backoff.
//   - Reconciler: merges snapshots and change events into LocalState.
//   - Dispatcher: issues mutations and applies their results optimistically.
//   - an event loop: a single goroutine that owns the Reconciler.
//
// Every entry into StateConnected starts a catch-up fetch of GET /v1/tasks.
// Change events that arrive while the fetch is pending are queued and
// applied, in arrival order, on top of the snapshot. A failed fetch is
// retried with backoff while the connection stays up.
//
// # Example
//
//	c, err := syncclient.New(syncclient.DefaultConfig("http://localhost:12310"))
//	if err != nil {
//	    return err
//	}
//	defer c.Stop()
//	views, cancel := c.Subscribe()
//	defer cancel()
//	go c.Run(ctx)
//	for v := range views {
//	    render(v)
//	}
package syncclient

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures a Client.
type Config struct {
	// ServerURL is the HTTP base URL of the sync server. Required.
	ServerURL string

	// HTTPClient is used for the task API. Default: 15s timeout.
	HTTPClient *http.Client

	// Dialer opens the sync connection. Default: websocket to ServerURL.
	Dialer Dialer

	// Optimistic applies each successful mutation's response immediately.
	Optimistic bool

	// VersionGuard discards stale payloads and keeps delete tombstones.
	VersionGuard bool

	// InitialBackoff is the delay before the second retry. Default: 500ms
	InitialBackoff time.Duration

	// MaxBackoff caps reconnect and catch-up retry delays. Default: 30s
	MaxBackoff time.Duration

	// BackoffMultiplier grows the delay per attempt. Default: 2
	BackoffMultiplier float64

	// ReadTimeout drops a connection that stays silent this long. Default: 90s
	ReadTimeout time.Duration

	// HighlightDuration is how long an id stays in View.Recent. Default: 2s
	HighlightDuration time.Duration

	// MaxRecent bounds View.Recent. Default: 64
	MaxRecent int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config for serverURL with optimistic updates on.
func DefaultConfig(serverURL string) Config {
	return applyConfigDefaults(Config{ServerURL: serverURL, Optimistic: true})
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 90 * time.Second
	}
	if cfg.HighlightDuration <= 0 {
		cfg.HighlightDuration = 2 * time.Second
	}
	if cfg.MaxRecent <= 0 {
		cfg.MaxRecent = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// View
// =============================================================================

// View is an immutable snapshot of the client for rendering.
type View struct {
	// Tasks is LocalState ordered by id.
	Tasks []datatypes.Task

	// State is the connectivity indicator.
	State ConnectionState

	// ConnectionID is the server-assigned session id while connected.
	ConnectionID string

	// Syncing is true while a catch-up fetch is pending.
	Syncing bool

	// Recent holds ids changed within the last HighlightDuration.
	Recent map[int64]bool
}

// IsRecent reports whether id changed recently.
func (v View) IsRecent(id int64) bool {
	return v.Recent[id]
}

// =============================================================================
// Client
// =============================================================================

// Client is a synchronized task list.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use. Mutation methods come
// from the embedded Dispatcher.
type Client struct {
	*Dispatcher

	cfg     Config
	logger  *slog.Logger
	api     *TaskAPI
	manager *ConnectionManager

	// ctx scopes background fetches; cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	actions  chan func()
	quit     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once

	// Owned by the event loop.
	rec          *Reconciler
	state        ConnectionState
	connectionID string
	syncing      bool
	generation   uint64
	pending      []datatypes.ChangeEvent
	subscribers  map[uint64]chan View
	nextSub      uint64
}

// New builds a Client and starts its event loop. Call Run to connect and
// Stop to release resources.
//
// # Outputs
//
//   - *Client: Ready; Tasks is empty until the first catch-up fetch.
//   - error: Missing or malformed ServerURL.
func New(cfg Config) (*Client, error) {
	cfg = applyConfigDefaults(cfg)
	if cfg.ServerURL == "" {
		return nil, errors.New("syncclient: server url is required")
	}

	dialer := cfg.Dialer
	if dialer == nil {
		var err error
		dialer, err = NewWebSocketDialer(cfg.ServerURL, cfg.ReadTimeout)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:         cfg,
		logger:      cfg.Logger,
		api:         NewTaskAPI(cfg.ServerURL, cfg.HTTPClient),
		ctx:         ctx,
		cancel:      cancel,
		actions:     make(chan func(), 64),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		rec:         NewReconciler(cfg.VersionGuard, cfg.MaxRecent),
		subscribers: make(map[uint64]chan View),
	}
	c.Dispatcher = newDispatcher(c.api, c, cfg.Optimistic, cfg.Logger)
	c.manager = NewConnectionManager(ManagerConfig{
		Dialer:            dialer,
		Listener:          loopListener{c},
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Logger:            cfg.Logger,
	})

	go c.loop()
	return c, nil
}

// API returns the underlying task API client.
func (c *Client) API() *TaskAPI { return c.api }

// Run connects and keeps the connection alive until ctx is cancelled or
// Stop is called. See ConnectionManager.Run for the return values.
func (c *Client) Run(ctx context.Context) error {
	return c.manager.Run(ctx)
}

// Stop disconnects, stops the event loop and closes every subscription.
// Safe to call more than once.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.manager.Stop()
		c.cancel()
		close(c.quit)
		<-c.loopDone
	})
}

// Subscribe returns a channel of Views and a function that ends the
// subscription.
//
// # Description
//
// The channel holds at most one View. A slow reader skips intermediate
// Views and always receives the newest. The current View is delivered
// immediately. The channel is closed by cancel or Stop.
func (c *Client) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)
	var id uint64
	err := c.call(func() {
		c.nextSub++
		id = c.nextSub
		c.subscribers[id] = ch
		ch <- c.view()
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = c.call(func() {
				if sub, ok := c.subscribers[id]; ok {
					delete(c.subscribers, id)
					close(sub)
				}
			})
		})
	}
	return ch, cancel
}

// Tasks returns a copy of LocalState ordered by id.
func (c *Client) Tasks() ([]datatypes.Task, error) {
	var tasks []datatypes.Task
	err := c.call(func() { tasks = c.rec.Tasks() })
	return tasks, err
}

// View returns the current View.
func (c *Client) View() (View, error) {
	var v View
	err := c.call(func() { v = c.view() })
	return v, err
}

// State returns the connectivity state as last seen by the event loop.
func (c *Client) State() ConnectionState {
	var s ConnectionState
	if err := c.call(func() { s = c.state }); err != nil {
		return StateDisconnected
	}
	return s
}

// =============================================================================
// Event Loop
// =============================================================================

func (c *Client) loop() {
	defer close(c.loopDone)
	for {
		select {
		case fn := <-c.actions:
			fn()
		case <-c.quit:
			for id, ch := range c.subscribers {
				delete(c.subscribers, id)
				close(ch)
			}
			return
		}
	}
}

// post queues fn on the event loop. It reports false after Stop.
func (c *Client) post(fn func()) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.actions <- fn:
		return true
	case <-c.quit:
		return false
	}
}

// call runs fn on the event loop and waits for it.
func (c *Client) call(fn func()) error {
	done := make(chan struct{})
	if !c.post(func() { fn(); close(done) }) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-c.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// loopListener forwards ConnectionManager callbacks onto the event loop.
type loopListener struct{ c *Client }

func (l loopListener) StateChanged(state ConnectionState, connectionID string) {
	l.c.post(func() { l.c.onState(state, connectionID) })
}

func (l loopListener) EventReceived(event datatypes.ChangeEvent) {
	l.c.post(func() { l.c.ingest(event) })
}

func (c *Client) applyLocal(event datatypes.ChangeEvent) {
	c.post(func() { c.ingest(event) })
}

func (c *Client) onState(state ConnectionState, connectionID string) {
	c.state = state
	if state == StateConnected {
		c.connectionID = connectionID
		c.beginCatchUp()
	} else {
		c.connectionID = ""
		if c.syncing {
			// Abandon the fetch; the next connection starts a new one.
			c.generation++
			c.syncing = false
			c.pending = nil
		}
	}
	c.publish()
}

func (c *Client) beginCatchUp() {
	c.generation++
	c.syncing = true
	c.pending = nil
	retry := newRetryBackoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff, c.cfg.BackoffMultiplier)
	retry.Next() // the first fetch is the immediate attempt
	go c.fetchSnapshot(c.generation, retry)
}

// fetchSnapshot runs off the loop and posts the result back.
func (c *Client) fetchSnapshot(gen uint64, retry *retryBackoff) {
	tasks, err := c.api.List(c.ctx)
	c.post(func() { c.onSnapshot(gen, tasks, err, retry) })
}

func (c *Client) onSnapshot(gen uint64, tasks []datatypes.Task, err error, retry *retryBackoff) {
	if gen != c.generation || !c.syncing {
		return
	}
	if err != nil {
		delay := retry.Next()
		c.logger.Warn("catch-up fetch failed, retrying",
			"error", err,
			"retry_in", delay.String())
		time.AfterFunc(delay, func() {
			c.post(func() {
				if gen == c.generation && c.syncing {
					go c.fetchSnapshot(gen, retry)
				}
			})
		})
		return
	}

	c.rec.ApplySnapshot(tasks)
	pending := c.pending
	c.pending = nil
	c.syncing = false
	for _, ev := range pending {
		c.apply(ev)
	}
	c.logger.Debug("catch-up applied",
		"tasks", len(tasks),
		"queued_events", len(pending))
	c.publish()
}

// ingest applies ev now, or queues it behind a pending catch-up fetch.
func (c *Client) ingest(ev datatypes.ChangeEvent) {
	if c.syncing {
		c.pending = append(c.pending, ev)
		return
	}
	if c.apply(ev) {
		c.publish()
	}
}

func (c *Client) apply(ev datatypes.ChangeEvent) bool {
	if !c.rec.Apply(ev) {
		return false
	}
	if ev.Kind != datatypes.KindDeleted {
		c.markRecent(ev.ID)
	}
	return true
}

func (c *Client) markRecent(id int64) {
	token := c.rec.MarkRecent(id)
	time.AfterFunc(c.cfg.HighlightDuration, func() {
		c.post(func() {
			if c.rec.ExpireRecent(id, token) {
				c.publish()
			}
		})
	})
}

func (c *Client) view() View {
	return View{
		Tasks:        c.rec.Tasks(),
		State:        c.state,
		ConnectionID: c.connectionID,
		Syncing:      c.syncing,
		Recent:       c.rec.Recent(),
	}
}

// publish hands the newest View to every subscriber without blocking.
func (c *Client) publish() {
	if len(c.subscribers) == 0 {
		return
	}
	v := c.view()
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
