// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSync/pkg/datatypes"
	"github.com/AleutianAI/AleutianSync/pkg/syncclient"
	"github.com/AleutianAI/AleutianSync/pkg/telemetry"
	"github.com/AleutianAI/AleutianSync/services/syncserver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Helpers
// =============================================================================

type cliEnv struct {
	serverURL  string
	configPath string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	svc, err := syncserver.New(syncserver.Config{
		InMemory:     true,
		PingInterval: -1,
		Telemetry: telemetry.Config{
			ServiceName:    "tasksync-test",
			TraceExporter:  "none",
			MetricExporter: "none",
		},
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
	})

	path := filepath.Join(t.TempDir(), "tasksync.yaml")
	cfg := "server:\n  url: " + srv.URL + "\nsync:\n  optimistic: true\n  max_backoff: 1s\n  highlight: 10ms\nlogging:\n  level: error\n  dir: \"\"\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0600))

	return cliEnv{serverURL: srv.URL, configPath: path}
}

// safeBuffer lets the watch goroutine write while the test reads.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (e cliEnv) execute(ctx context.Context, stdout, stderr io.Writer, args ...string) error {
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--output", "plain"}, args...))
	return cmd.ExecuteContext(ctx)
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := e.execute(context.Background(), &out, &errOut, args...)
	return out.String(), err
}

// =============================================================================
// Task Commands
// =============================================================================

func TestTaskCommands_Lifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "add", "Buy", "milk", "-d", "2 liters")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: created #1")
	assert.Contains(t, out, "1\tpending\tBuy milk\t2 liters")

	_, err = env.run(t, "add", "Walk dog", "--status", "in-progress")
	require.NoError(t, err)

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "1\tpending\tBuy milk\t2 liters\n2\tin_progress\tWalk dog\t\n", out)

	out, err = env.run(t, "list", "--status", "in_progress")
	require.NoError(t, err)
	assert.Equal(t, "2\tin_progress\tWalk dog\t\n", out)

	out, err = env.run(t, "edit", "1", "--title", "Buy oat milk")
	require.NoError(t, err)
	assert.Contains(t, out, "1\tpending\tBuy oat milk\t2 liters")

	out, err = env.run(t, "done", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: #1 is completed")

	out, err = env.run(t, "status", "2", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: #2 is pending")

	out, err = env.run(t, "rm", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "OK: deleted #2")

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "1\tcompleted\tBuy oat milk\t2 liters\n", out)
}

func TestRemove_AbsentTaskWarns(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.run(t, "rm", "42")
	require.NoError(t, err)
	assert.Contains(t, out, "WARN: task #42 did not exist")
}

func TestTaskCommands_Errors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "status", "1", "archived")
	assert.ErrorContains(t, err, `invalid status "archived"`)

	_, err = env.run(t, "done", "abc")
	assert.ErrorContains(t, err, `invalid task id "abc"`)

	_, err = env.run(t, "edit", "1")
	assert.ErrorContains(t, err, "nothing to change")

	_, err = env.run(t, "done", "99")
	require.Error(t, err)
	assert.True(t, syncclient.IsNotFound(err), err.Error())

	_, err = env.run(t, "add", strings.Repeat("x", 201))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestServerFlagOverridesConfig(t *testing.T) {
	env := newCLIEnv(t)
	other := newCLIEnv(t)

	_, err := env.run(t, "--server", other.serverURL, "add", "Elsewhere")
	require.NoError(t, err)

	out, err := other.run(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Elsewhere")

	out, err = env.run(t, "list")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestTimeoutFlagSetsHTTPClientTimeout(t *testing.T) {
	env := newCLIEnv(t)

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	a := &app{}
	require.NoError(t, a.init(cmd, rootFlags{configPath: env.configPath, timeout: 45 * time.Second}))
	defer a.logger.Close()

	require.NotNil(t, a.httpClient)
	assert.Equal(t, 45*time.Second, a.httpClient.Timeout)
	assert.Same(t, a.httpClient, a.clientConfig().HTTPClient)

	tasks, err := a.api.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTimeoutFlagBoundsRequests(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer slow.Close()
	env := newCLIEnv(t)

	start := time.Now()
	_, err := env.run(t, "--server", slow.URL, "--timeout", "100ms", "list")
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    datatypes.Status
		wantErr bool
	}{
		{"pending", datatypes.StatusPending, false},
		{"in-progress", datatypes.StatusInProgress, false},
		{"IN_PROGRESS", datatypes.StatusInProgress, false},
		{"completed", datatypes.StatusCompleted, false},
		{"done", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Watch
// =============================================================================

func TestWatch_PlainFollowsChanges(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run(t, "add", "Existing")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out, errOut safeBuffer
	done := make(chan error, 1)
	go func() { done <- env.execute(ctx, &out, &errOut, "watch") }()

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "1\tpending\tExisting")
	}, 5*time.Second, 20*time.Millisecond, out.String())
	assert.Contains(t, out.String(), "state: connected")

	_, err = env.run(t, "add", "From another client")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "2\tpending\tFrom another client")
	}, 5*time.Second, 20*time.Millisecond, out.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not exit after cancel")
	}
}
