// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tui implements the live task view of `tasksync watch`.
//
// # Description
//
// The model renders syncclient Views as they arrive: a header with the
// connectivity indicator (a spinner while connecting or catching up), the
// task list with recently changed rows highlighted, and the last mutation
// error. Keys mutate the selected task through the client's dispatcher.
//
// # Thread Safety
//
// TUI components are designed for single-threaded use within the bubbletea
// event loop. Do not access TUI state from multiple goroutines.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
	"github.com/AleutianAI/AleutianSync/pkg/syncclient"
	"github.com/AleutianAI/AleutianSync/pkg/ux"
)

// Mutator performs task mutations. *syncclient.Client implements it.
type Mutator interface {
	SetStatus(ctx context.Context, id int64, status datatypes.Status) (datatypes.Task, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// =============================================================================
// Messages
// =============================================================================

// viewMsg carries a new client View.
type viewMsg syncclient.View

// viewsClosedMsg signals the subscription ended.
type viewsClosedMsg struct{}

// mutationDoneMsg reports the outcome of a key-triggered mutation.
type mutationDoneMsg struct {
	action string
	id     int64
	err    error
}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model for the live view.
type Model struct {
	views   <-chan syncclient.View
	mutator Mutator
	timeout time.Duration
	printer *ux.Printer

	view     syncclient.View
	hasView  bool
	cursor   int
	spinner  spinner.Model
	lastErr  string
	lastNote string
	quitting bool
}

// NewModel builds a model reading from views and mutating through m.
func NewModel(views <-chan syncclient.View, m Mutator) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = ux.Styles.Warning
	return Model{
		views:   views,
		mutator: m,
		timeout: 10 * time.Second,
		printer: ux.NewPrinter(nil, ux.ModeRich),
		spinner: s,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForView(m.views))
}

func waitForView(views <-chan syncclient.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-views
		if !ok {
			return viewsClosedMsg{}
		}
		return viewMsg(v)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case viewMsg:
		m.view = syncclient.View(msg)
		m.hasView = true
		m.clampCursor()
		return m, waitForView(m.views)

	case viewsClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case mutationDoneMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s #%d failed: %v", msg.action, msg.id, msg.err)
			m.lastNote = ""
		} else {
			m.lastErr = ""
			m.lastNote = fmt.Sprintf("%s #%d", msg.action, msg.id)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "j", "down":
		m.cursor++
		m.clampCursor()

	case "k", "up":
		m.cursor--
		m.clampCursor()

	case "g", "home":
		m.cursor = 0

	case "G", "end":
		m.cursor = len(m.view.Tasks) - 1
		m.clampCursor()

	case " ", "enter":
		if t, ok := m.selected(); ok {
			next := nextStatus(t.Status)
			return m, m.mutate("status "+string(next), t.ID, func(ctx context.Context) error {
				_, err := m.mutator.SetStatus(ctx, t.ID, next)
				return err
			})
		}

	case "c":
		if t, ok := m.selected(); ok {
			return m, m.mutate("complete", t.ID, func(ctx context.Context) error {
				_, err := m.mutator.SetStatus(ctx, t.ID, datatypes.StatusCompleted)
				return err
			})
		}

	case "d", "delete":
		if t, ok := m.selected(); ok {
			return m, m.mutate("delete", t.ID, func(ctx context.Context) error {
				_, err := m.mutator.Delete(ctx, t.ID)
				return err
			})
		}
	}
	return m, nil
}

// mutate runs fn off the bubbletea loop and reports back.
func (m Model) mutate(action string, id int64, fn func(ctx context.Context) error) tea.Cmd {
	if m.mutator == nil {
		return nil
	}
	timeout := m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return mutationDoneMsg{action: action, id: id, err: fn(ctx)}
	}
}

func (m Model) selected() (datatypes.Task, bool) {
	if m.cursor < 0 || m.cursor >= len(m.view.Tasks) {
		return datatypes.Task{}, false
	}
	return m.view.Tasks[m.cursor], true
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.view.Tasks) {
		m.cursor = len(m.view.Tasks) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// nextStatus cycles pending -> in_progress -> completed -> pending.
func nextStatus(s datatypes.Status) datatypes.Status {
	switch s {
	case datatypes.StatusPending:
		return datatypes.StatusInProgress
	case datatypes.StatusInProgress:
		return datatypes.StatusCompleted
	default:
		return datatypes.StatusPending
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	if !m.hasView {
		b.WriteString(ux.Styles.Muted.Render("Loading..."))
		b.WriteString("\n")
	} else if len(m.view.Tasks) == 0 {
		b.WriteString(ux.Styles.Muted.Render("No tasks yet. Add one with: tasksync add <title>"))
		b.WriteString("\n")
	} else {
		for i, t := range m.view.Tasks {
			cursor := "  "
			if i == m.cursor {
				cursor = ux.Styles.Selected.Render("▸ ")
			}
			b.WriteString(cursor)
			b.WriteString(m.printer.TaskLine(t, m.view.IsRecent(t.ID)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	if m.lastErr != "" {
		b.WriteString(ux.IconError.Render() + " " + ux.Styles.Error.Render(m.lastErr) + "\n")
	} else if m.lastNote != "" {
		b.WriteString(ux.IconSuccess.Render() + " " + ux.Styles.Muted.Render(m.lastNote) + "\n")
	}
	b.WriteString(ux.Styles.Muted.Render("↑/↓ move • space cycle status • c complete • d delete • q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderHeader() string {
	title := ux.Styles.Title.Render("tasksync")
	state := m.view.State
	badge := ux.ConnectionBadge(state.String())

	busy := state == syncclient.StateConnecting || state == syncclient.StateReconnecting || m.view.Syncing
	if busy {
		badge = m.spinner.View() + " " + badge
	}
	if m.view.Syncing {
		badge += ux.Styles.Muted.Render(" (catching up)")
	}
	count := ux.Styles.Muted.Render(fmt.Sprintf("%d tasks", len(m.view.Tasks)))
	return fmt.Sprintf("%s  %s  %s", title, badge, count)
}
