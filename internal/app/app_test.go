package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgridgo/internal/config"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/modules/inout"
)

// safeBuffer is a thread-safe buffer for capturing log output in tests.
type safeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func testSettings() config.Settings {
	var s config.Settings
	s.Server.Addr = "127.0.0.1:0"
	s.Server.CORSOrigins = []string{"*"}
	s.Engine.Workers = 2
	s.Engine.QueueSize = 10
	s.Engine.MaxCodeSize = 4096
	s.Log.Level = "debug"
	s.Log.Format = "text"
	return s
}

func writeWorkflow(t *testing.T, wf map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(wf)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"serve", Config{Mode: ModeServe, Settings: testSettings()}, ""},
		{"run without file", Config{Mode: ModeRun, Settings: testSettings()}, "workflow file is required"},
		{"watch without server", Config{Mode: ModeWatch, ExecutionID: "ex-1", Settings: testSettings()}, "execution id and a server URL"},
		{"unknown mode", Config{Mode: "dance", Settings: testSettings()}, `unknown mode "dance"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.cfg)
			if tc.msg == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.cfg.Mode, cfg.Mode)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "v", rec["k"])
}

func TestRun_WorkflowFile(t *testing.T) {
	// --- Arrange ---
	path := writeWorkflow(t, map[string]any{
		"name": "double",
		"nodes": []map[string]any{
			{"id": "in", "type": "input"},
			{"id": "calc", "type": "code", "params": map[string]any{"code": `output = input_data["n"] * 2`}},
			{"id": "out", "type": "output"},
		},
		"edges": []map[string]any{
			{"source": "in", "target": "calc"},
			{"source": "calc", "target": "out"},
		},
	})
	cfg, err := NewConfig(Config{Mode: ModeRun, WorkflowPath: path, Input: map[string]any{"n": 21}, Settings: testSettings()})
	require.NoError(t, err)
	var out, logs safeBuffer

	// --- Act ---
	err = NewApp(&out, &logs, cfg).Run(context.Background())

	// --- Assert ---
	require.NoError(t, err, logs.String())
	var exec model.Execution
	require.NoError(t, json.Unmarshal([]byte(out.String()), &exec))
	assert.Equal(t, model.StatusCompleted, exec.Status)
	result := exec.Output["result"].(map[string]any)
	assert.EqualValues(t, 42, result["output"])
	assert.Equal(t, true, result["success"])
	assert.Contains(t, logs.String(), "Execution finished.")
}

func TestRun_WorkflowFileFailure(t *testing.T) {
	path := writeWorkflow(t, map[string]any{
		"name": "broken",
		"nodes": []map[string]any{
			{"id": "in", "type": "input"},
			{"id": "x", "type": "teleport"},
		},
		"edges": []map[string]any{{"source": "in", "target": "x"}},
	})
	cfg, err := NewConfig(Config{Mode: ModeRun, WorkflowPath: path, Settings: testSettings()})
	require.NoError(t, err)
	var out, logs safeBuffer

	err = NewApp(&out, &logs, cfg).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type 'teleport'")
	assert.Contains(t, out.String(), `"status": "failed"`)
}

func TestRun_MissingWorkflowFile(t *testing.T) {
	cfg, err := NewConfig(Config{Mode: ModeRun, WorkflowPath: filepath.Join(t.TempDir(), "nope.json"), Settings: testSettings()})
	require.NoError(t, err)

	err = NewApp(&safeBuffer{}, &safeBuffer{}, cfg).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read workflow")
}

func TestRun_IncompleteModulesPanic(t *testing.T) {
	cfg, err := NewConfig(Config{Mode: ModeRun, WorkflowPath: writeWorkflow(t, map[string]any{"name": "x"}), Settings: testSettings()})
	require.NoError(t, err)
	app := NewApp(&safeBuffer{}, &safeBuffer{}, cfg, []registry.Module{&inout.Module{}}...)

	assert.PanicsWithError(t, "registry validation failed: no implementation for node types: llm, code, http, condition, retrieval, transform, loop, search",
		func() { _ = app.Run(context.Background()) })
}

func TestServe_StartsAndStops(t *testing.T) {
	// --- Arrange ---
	cfg, err := NewConfig(Config{Mode: ModeServe, Settings: testSettings()})
	require.NoError(t, err)
	var logs safeBuffer
	app := NewApp(&safeBuffer{}, &logs, cfg)
	addrCh := make(chan string, 1)
	app.onListen = func(addr string) { addrCh <- addr }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	var addr string
	select {
	case addr = <-addrCh:
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	// --- Act ---
	resp, err := http.Get(fmt.Sprintf("http://%s/health", addr))
	require.NoError(t, err)
	resp.Body.Close()
	cancel()

	// --- Assert ---
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Contains(t, logs.String(), "Server stopped.")
}
