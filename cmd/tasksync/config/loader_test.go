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
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_CreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tasksync.yaml")
	var notice bytes.Buffer

	cfg, err := LoadFrom(path, &notice)
	require.NoError(t, err)

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Contains(t, notice.String(), "First run detected")
	_, err = os.Stat(path)
	assert.NoError(t, err)

	// Second load reads the file silently.
	notice.Reset()
	again, err := LoadFrom(path, &notice)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.Empty(t, notice.String())
}

func TestLoadFrom_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  url: http://sync.internal:9000\nsync:\n  version_guard: true\n  max_backoff: 5s\n"), 0644))

	cfg, err := LoadFrom(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "http://sync.internal:9000", cfg.Server.URL)
	assert.True(t, cfg.Sync.VersionGuard)
	assert.Equal(t, 5*time.Second, cfg.Sync.MaxBackoff)
	assert.True(t, cfg.Sync.Optimistic)
	assert.Equal(t, 2*time.Second, cfg.Sync.Highlight)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadFrom_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasksync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := LoadFrom(path, nil)
	assert.Error(t, err)
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/tester", ".tasksync", "tasksync.yaml"), path)
}
