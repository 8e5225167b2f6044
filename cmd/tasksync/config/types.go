// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"
)

// TasksyncConfig is the on-disk configuration of the tasksync CLI.
type TasksyncConfig struct {
	// Server: where the sync server lives
	Server ServerConfig `yaml:"server"`

	// Sync: client-side reconciliation and reconnect behavior
	Sync SyncConfig `yaml:"sync"`

	// Logging: diagnostics for the CLI itself
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	URL string `yaml:"url"` // e.g. http://localhost:12310
}

type SyncConfig struct {
	Optimistic   bool          `yaml:"optimistic"`    // apply mutation responses immediately
	VersionGuard bool          `yaml:"version_guard"` // discard stale updates by updated_at
	MaxBackoff   time.Duration `yaml:"max_backoff"`   // e.g. 30s
	Highlight    time.Duration `yaml:"highlight"`     // how long changed rows stay highlighted
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	Dir   string `yaml:"dir"`   // empty disables file logging
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() TasksyncConfig {
	return TasksyncConfig{
		Server: ServerConfig{
			URL: "http://localhost:12310",
		},
		Sync: SyncConfig{
			Optimistic: true,
			MaxBackoff: 30 * time.Second,
			Highlight:  2 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "warn",
			Dir:   "~/.tasksync/logs",
		},
	}
}
