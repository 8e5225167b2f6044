// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how much styling the CLI emits.
type Mode string

const (
	// ModeRich enables colors, icons and the live TUI.
	ModeRich Mode = "rich"

	// ModePlain emits tab-separated text suitable for scripts and pipes.
	ModePlain Mode = "plain"
)

// ParseMode converts a string to Mode. Unknown values yield ModeRich.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "machine", "quiet", "q":
		return ModePlain
	default:
		return ModeRich
	}
}

// DetectMode picks the mode for w.
//
// # Description
//
// TASKSYNC_OUTPUT overrides detection. Otherwise writers that are not a
// terminal (pipes, files, buffers) get ModePlain.
func DetectMode(w io.Writer) Mode {
	if env := os.Getenv("TASKSYNC_OUTPUT"); env != "" {
		return ParseMode(env)
	}
	if IsTerminal(w) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
