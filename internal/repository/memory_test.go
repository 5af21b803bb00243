package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/flowgridgo/internal/model"
)

func sampleWorkflow(id string, created time.Time) *model.Workflow {
	return &model.Workflow{
		ID:   id,
		Name: "demo " + id,
		Nodes: []model.Node{
			{ID: "in", Type: model.NodeInput},
			{ID: "out", Type: model.NodeOutput, Params: map[string]any{"result_key": "answer"}},
		},
		Edges:     []model.Edge{{ID: "e1", Source: "in", Target: "out"}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryWorkflowStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkflowStore()
	now := time.Now().UTC()

	wf := sampleWorkflow("wf-1", now)
	require.NoError(t, s.Create(ctx, wf))
	assert.ErrorIs(t, s.Create(ctx, wf), ErrAlreadyExists)

	got, err := s.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, wf, got)

	// Mutating the returned copy does not touch the stored record.
	got.Nodes[1].Params["result_key"] = "changed"
	again, err := s.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "answer", again.Nodes[1].Params["result_key"])

	got.Name = "renamed"
	require.NoError(t, s.Update(ctx, got))
	again, err = s.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", again.Name)

	require.NoError(t, s.Delete(ctx, "wf-1"))
	_, err = s.Get(ctx, "wf-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "wf-1"), ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, wf), ErrNotFound)
}

func TestMemoryWorkflowStore_ListOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryWorkflowStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, sampleWorkflow("c", base.Add(2*time.Hour))))
	require.NoError(t, s.Create(ctx, sampleWorkflow("a", base)))
	require.NoError(t, s.Create(ctx, sampleWorkflow("b", base.Add(time.Hour))))

	list, err := s.List(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, wf := range list {
		ids = append(ids, wf.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestMemoryWorkflowStore_EmptyList(t *testing.T) {
	list, err := NewMemoryWorkflowStore().List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestMemoryExecutionStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	first := model.NewExecution("ex-1", "wf-1", map[string]any{"q": "hi"}, base)
	second := model.NewExecution("ex-2", "wf-1", nil, base.Add(time.Minute))
	other := model.NewExecution("ex-3", "wf-2", nil, base)
	for _, e := range []*model.Execution{first, second, other} {
		require.NoError(t, s.Create(ctx, e))
	}
	assert.ErrorIs(t, s.Create(ctx, first), ErrAlreadyExists)

	require.NoError(t, first.Transition(model.StatusRunning, base.Add(time.Second)))
	first.NodeOutputs["in"] = map[string]any{"q": "hi"}
	require.NoError(t, s.Update(ctx, first))

	got, err := s.Get(ctx, "ex-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, got.Status)
	assert.Equal(t, map[string]any{"q": "hi"}, got.NodeOutputs["in"])

	list, err := s.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ex-2", list[0].ID, "most recent first")
	assert.Equal(t, "ex-1", list[1].ID)

	none, err := s.ListByWorkflow(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, model.NewExecution("nope", "wf-1", nil, base)), ErrNotFound)
}

func TestMemoryExecutionStore_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryExecutionStore()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e := model.NewExecution(fmt.Sprintf("ex-%d", i), "wf", nil, now)
			assert.NoError(t, s.Create(ctx, e))
			e.NodeOutputs["n"] = map[string]any{"i": i}
			assert.NoError(t, s.Update(ctx, e))
			_, err := s.ListByWorkflow(ctx, "wf")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	list, err := s.ListByWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.Len(t, list, 20)
}
