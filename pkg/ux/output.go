// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the tasksync CLI.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Selected  lipgloss.Style
	Box       lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Selected:  lipgloss.NewStyle().Foreground(ColorTealPrimary).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess  Icon = "✓"
	IconWarning  Icon = "⚠"
	IconError    Icon = "✗"
	IconPending  Icon = "○"
	IconProgress Icon = "◐"
	IconBullet   Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning, IconProgress:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// StatusIcon maps a task status to its icon.
func StatusIcon(s datatypes.Status) Icon {
	switch s {
	case datatypes.StatusCompleted:
		return IconSuccess
	case datatypes.StatusInProgress:
		return IconProgress
	default:
		return IconPending
	}
}

// ConnectionBadge renders the connectivity indicator for a state name.
func ConnectionBadge(state string) string {
	switch state {
	case "connected":
		return Styles.Success.Render("● " + state)
	case "connecting", "reconnecting":
		return Styles.Warning.Render("◌ " + state)
	default:
		return Styles.Error.Render("○ " + state)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes CLI output in the selected Mode.
//
// Plain mode writes tab-separated fields with no escape sequences, one
// record per line, so output can be piped to cut or awk.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode { return p.mode }

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning message
func (p *Printer) Warning(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error message
func (p *Printer) Error(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Info prints an informational message
func (p *Printer) Info(text string) {
	if p.mode == ModePlain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Task prints one task.
func (p *Printer) Task(t datatypes.Task) {
	fmt.Fprintln(p.w, p.TaskLine(t, false))
}

// Tasks prints a task list, or a muted note when it is empty.
func (p *Printer) Tasks(tasks []datatypes.Task) {
	if len(tasks) == 0 {
		if p.mode != ModePlain {
			fmt.Fprintln(p.w, Styles.Muted.Render("No tasks."))
		}
		return
	}
	for _, t := range tasks {
		p.Task(t)
	}
}

// TaskLine formats a task. recent highlights the title in rich mode.
func (p *Printer) TaskLine(t datatypes.Task, recent bool) string {
	if p.mode == ModePlain {
		return strings.Join([]string{
			fmt.Sprintf("%d", t.ID),
			string(t.Status),
			t.Title,
			t.Description,
		}, "\t")
	}

	title := t.Title
	switch {
	case recent:
		title = Styles.Highlight.Render(title)
	case t.Status == datatypes.StatusCompleted:
		title = Styles.Muted.Render(title)
	}
	line := fmt.Sprintf("%s %s %s", StatusIcon(t.Status).Render(), Styles.Muted.Render(fmt.Sprintf("#%-4d", t.ID)), title)
	if t.Description != "" {
		line += " " + Styles.Muted.Render("- "+t.Description)
	}
	return line
}
