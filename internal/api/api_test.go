package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgridgo/internal/engine"
	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/progress"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/repository"
	"github.com/vk/flowgridgo/modules/inout"
	"github.com/vk/flowgridgo/modules/transform"
	"go.opentelemetry.io/otel/metric/noop"
)

type testEnv struct {
	server     *httptest.Server
	workflows  *repository.MemoryWorkflowStore
	executions *repository.MemoryExecutionStore
	manager    *engine.Manager
	bc         *progress.Broadcaster
}

// newTestEnv serves the API over a real engine. The llm node type blocks
// until its context is cancelled, which gives tests a long-running node.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := registry.New()
	(&inout.Module{}).Register(reg)
	(&transform.Module{}).Register(reg)
	reg.RegisterNode(model.NodeLLM, &registry.RegisteredNode{
		New: func(model.Node) (registry.Node, error) {
			return registry.NodeFunc(func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}), nil
		},
		Timeout: time.Minute,
	})

	exec, err := executor.New(reg, executor.WithMeterProvider(noop.NewMeterProvider()))
	require.NoError(t, err)

	env := &testEnv{
		workflows:  repository.NewMemoryWorkflowStore(),
		executions: repository.NewMemoryExecutionStore(),
	}
	bc := progress.NewBroadcaster(time.Second)
	env.bc = bc
	env.manager, err = engine.New(engine.Config{Workers: 2}, engine.Deps{
		Executor:    exec,
		Executions:  env.executions,
		Broadcaster: bc,
	})
	require.NoError(t, err)
	env.manager.Start(context.Background())

	srv := New(Config{CORSOrigins: []string{"*"}}, Deps{
		Workflows:   env.workflows,
		Executions:  env.executions,
		Runner:      env.manager,
		Registry:    reg,
		Broadcaster: bc,
	})
	env.server = httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		env.server.Close()
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.manager.Shutdown(ctx)
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func extractWorkflow() map[string]any {
	return map[string]any{
		"name": "extract x",
		"nodes": []map[string]any{
			{"id": "in", "type": "input"},
			{"id": "pick", "type": "transform", "params": map[string]any{"transform_type": "extract", "key": "x"}},
			{"id": "out", "type": "output"},
		},
		"edges": []map[string]any{
			{"id": "e1", "source": "in", "target": "pick"},
			{"id": "e2", "source": "pick", "target": "out"},
		},
	}
}

func (e *testEnv) createWorkflow(t *testing.T, body any) model.Workflow {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/api/workflows", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	var wf model.Workflow
	require.NoError(t, json.Unmarshal(raw, &wf))
	return wf
}

func (e *testEnv) waitForStatus(t *testing.T, id string, want model.Status) model.Execution {
	t.Helper()
	var exec model.Execution
	require.Eventually(t, func() bool {
		resp, raw := e.do(t, http.MethodGet, "/api/executions/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		exec = model.Execution{}
		return json.Unmarshal(raw, &exec) == nil && exec.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return exec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, raw := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestWorkflowCRUD(t *testing.T) {
	env := newTestEnv(t)

	created := env.createWorkflow(t, extractWorkflow())
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Len(t, created.Nodes, 3)

	resp, raw := env.do(t, http.MethodGet, "/api/workflows/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got model.Workflow
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "extract x", got.Name)

	resp, raw = env.do(t, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Workflow
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Len(t, list, 1)

	update := extractWorkflow()
	update["name"] = "renamed"
	resp, raw = env.do(t, http.MethodPut, "/api/workflows/"+created.ID, update)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	var updated model.Workflow
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	resp, _ = env.do(t, http.MethodDelete, "/api/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, raw = env.do(t, http.MethodGet, "/api/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(raw), `"error"`)

	resp, _ = env.do(t, http.MethodPut, "/api/workflows/missing", extractWorkflow())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateWorkflow_Rejections(t *testing.T) {
	env := newTestEnv(t)

	cycle := extractWorkflow()
	cycle["edges"] = []map[string]any{
		{"source": "pick", "target": "out"},
		{"source": "out", "target": "pick"},
	}
	unknown := extractWorkflow()
	unknown["nodes"] = []map[string]any{{"id": "x", "type": "teleport"}}
	unknown["edges"] = []map[string]any{}
	badTransform := extractWorkflow()
	badTransform["nodes"] = []map[string]any{{"id": "t", "type": "transform", "params": map[string]any{"transform_type": "explode"}}}
	badTransform["edges"] = []map[string]any{}
	noName := extractWorkflow()
	delete(noName, "name")

	tests := []struct {
		name   string
		body   any
		status int
		msg    string
	}{
		{name: "malformed json", body: `{"nodes": [`, status: http.StatusBadRequest, msg: "invalid JSON"},
		{name: "cycle", body: cycle, status: http.StatusUnprocessableEntity, msg: "cycle"},
		{name: "unknown node type", body: unknown, status: http.StatusUnprocessableEntity, msg: "unknown node type 'teleport'"},
		{name: "unknown transform", body: badTransform, status: http.StatusUnprocessableEntity, msg: "explode"},
		{name: "missing name", body: noName, status: http.StatusUnprocessableEntity, msg: "name is required"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := env.do(t, http.MethodPost, "/api/workflows", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.Unmarshal(raw, &body))
			assert.Contains(t, body["error"], tc.msg)
		})
	}
}

func TestValidateWorkflow(t *testing.T) {
	env := newTestEnv(t)
	ok := env.createWorkflow(t, extractWorkflow())

	resp, raw := env.do(t, http.MethodPost, "/api/workflows/"+ok.ID+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"valid":true,"order":["in","pick","out"]}`, string(raw))

	// Stored directly so that it bypasses validation on create.
	broken := &model.Workflow{
		ID:    "broken",
		Name:  "broken",
		Nodes: []model.Node{{ID: "a", Type: model.NodeInput}, {ID: "b", Type: model.NodeOutput}},
		Edges: []model.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "a"}},
	}
	require.NoError(t, env.workflows.Create(context.Background(), broken))

	resp, raw = env.do(t, http.MethodPost, "/api/workflows/broken/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res validateResponse
	require.NoError(t, json.Unmarshal(raw, &res))
	assert.False(t, res.Valid)
	assert.Empty(t, res.Order)
	assert.Contains(t, res.Error, "[a, b]")
}

func TestExecuteWorkflow(t *testing.T) {
	// --- Arrange ---
	env := newTestEnv(t)
	wf := env.createWorkflow(t, extractWorkflow())

	// --- Act ---
	resp, raw := env.do(t, http.MethodPost, "/api/workflows/"+wf.ID+"/execute", map[string]any{"input": map[string]any{"x": 42, "y": 1}})

	// --- Assert ---
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))
	var accepted executeResponse
	require.NoError(t, json.Unmarshal(raw, &accepted))
	assert.Equal(t, model.StatusPending, accepted.Status)

	exec := env.waitForStatus(t, accepted.ExecutionID, model.StatusCompleted)
	assert.Equal(t, map[string]any{"result": map[string]any{"output": float64(42), "success": true}}, exec.Output)
	assert.NotNil(t, exec.CompletedAt)

	resp, raw = env.do(t, http.MethodGet, "/api/workflows/"+wf.ID+"/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []model.Execution
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, accepted.ExecutionID, list[0].ID)
}

func TestExecuteWorkflow_EmptyBodyAndUnknownWorkflow(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, extractWorkflow())

	resp, raw := env.do(t, http.MethodPost, "/api/workflows/"+wf.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(raw))

	resp, _ = env.do(t, http.MethodPost, "/api/workflows/nope/execute", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func blockingWorkflow() map[string]any {
	return map[string]any{
		"name": "slow",
		"nodes": []map[string]any{
			{"id": "in", "type": "input"},
			{"id": "gen", "type": "llm"},
		},
		"edges": []map[string]any{{"source": "in", "target": "gen"}},
	}
}

func TestCancelExecution(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, blockingWorkflow())

	resp, raw := env.do(t, http.MethodPost, "/api/workflows/"+wf.ID+"/execute", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted executeResponse
	require.NoError(t, json.Unmarshal(raw, &accepted))
	env.waitForStatus(t, accepted.ExecutionID, model.StatusRunning)

	resp, _ = env.do(t, http.MethodPost, "/api/executions/"+accepted.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	exec := env.waitForStatus(t, accepted.ExecutionID, model.StatusFailed)
	assert.Equal(t, "execution cancelled", exec.Error)

	resp, _ = env.do(t, http.MethodPost, "/api/executions/"+accepted.ExecutionID+"/cancel", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/api/executions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, wf *model.Workflow, input map[string]any) (string, error) {
	args := m.Called(ctx, wf, input)
	return args.String(0), args.Error(1)
}

func (m *mockRunner) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockRunner) Execution(ctx context.Context, id string) (*model.Execution, error) {
	args := m.Called(ctx, id)
	exec, _ := args.Get(0).(*model.Execution)
	return exec, args.Error(1)
}

func TestErrorStatusMapping(t *testing.T) {
	workflows := repository.NewMemoryWorkflowStore()
	require.NoError(t, workflows.Create(context.Background(), &model.Workflow{ID: "wf", Name: "wf"}))

	runner := new(mockRunner)
	runner.On("Run", mock.Anything, mock.MatchedBy(func(wf *model.Workflow) bool { return wf.ID == "wf" }), mock.Anything).
		Return("ex-9", fmt.Errorf("execution ex-9: %w", flowerr.ErrQueueFull))
	runner.On("Execution", mock.Anything, "boom").Return(nil, errors.New("disk on fire"))

	srv := New(Config{}, Deps{
		Workflows:   workflows,
		Executions:  repository.NewMemoryExecutionStore(),
		Runner:      runner,
		Registry:    registry.New(),
		Broadcaster: progress.NewBroadcaster(0),
	})
	t.Cleanup(srv.Close)
	h := srv.Handler()

	// A plain error is hidden behind a generic 500 body.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/executions/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/workflows/wf/execute", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"execution ex-9: execution queue full","execution_id":"ex-9","status":"failed"}`, rec.Body.String())

	runner.AssertExpectations(t)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{flowerr.ErrRunNotFound, http.StatusNotFound},
		{ErrInvalidJSON, http.StatusBadRequest},
		{&flowerr.GraphReferenceError{Kind: flowerr.KindCycle}, http.StatusUnprocessableEntity},
		{&flowerr.UnknownNodeTypeError{Type: "x"}, http.StatusUnprocessableEntity},
		{flowerr.ErrQueueFull, http.StatusServiceUnavailable},
		{engine.ErrClosed, http.StatusServiceUnavailable},
		{repository.ErrAlreadyExists, http.StatusConflict},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, statusFor(tc.err), tc.err.Error())
	}
}

func TestRecoveryHandler(t *testing.T) {
	runner := new(mockRunner)
	runner.On("Execution", mock.Anything, "panic").Run(func(mock.Arguments) { panic("handler exploded") })

	srv := New(Config{}, Deps{Runner: runner, Registry: registry.New(), Broadcaster: progress.NewBroadcaster(0)})
	t.Cleanup(srv.Close)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/executions/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
