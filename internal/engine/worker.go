package engine

import (
	"context"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/progress"
)

func (m *Manager) worker(id int) {
	defer m.wg.Done()
	logger := m.logger.With("workerID", id)
	logger.Debug("Worker started.")
	for j := range m.jobs {
		m.process(ctxlog.WithLogger(j.ctx, logger), j)
	}
	logger.Debug("Worker stopped.")
}

// process drives one execution from pending to a terminal state. ctx is the
// run's own context; records are persisted and events sent on a detached
// copy so a cancelled run can still be finalized.
func (m *Manager) process(ctx context.Context, j *job) {
	exec := j.exec
	logger := ctxlog.FromContext(ctx).With("executionID", exec.ID, "workflowID", j.wf.ID)
	ctx = ctxlog.WithLogger(ctx, logger)
	persistCtx := context.WithoutCancel(ctx)
	defer m.release(exec.ID)

	if ctx.Err() != nil {
		logger.Info("Execution cancelled before it started.")
		m.finish(persistCtx, exec, nil, flowerr.ErrCancelled)
		return
	}

	if err := exec.Transition(model.StatusRunning, m.deps.Now()); err != nil {
		logger.Error("Cannot start execution.", "error", err)
		return
	}
	m.persist(persistCtx, exec)
	m.broadcast(persistCtx, exec.ID, progress.Event{
		Type:         progress.EventStart,
		WorkflowID:   j.wf.ID,
		WorkflowName: j.wf.Name,
	})
	logger.Info("▶️ Execution started.")

	res, err := m.deps.Executor.Execute(ctx, executor.Run{
		ExecutionID: exec.ID,
		Workflow:    j.wf,
		Input:       exec.Input,
		OnNode: func(_ context.Context, nodeID string, _ model.NodeType, output map[string]any) {
			exec.NodeOutputs[nodeID] = output
			m.persist(persistCtx, exec)
			m.broadcast(persistCtx, exec.ID, progress.Event{
				Type:   progress.EventNodeCompleted,
				NodeID: nodeID,
				Output: output,
			})
		},
	})
	m.finish(persistCtx, exec, res, err)
}

func (m *Manager) finish(ctx context.Context, exec *model.Execution, res *executor.Result, runErr error) {
	logger := ctxlog.FromContext(ctx)
	if res != nil && res.NodeOutputs != nil {
		exec.NodeOutputs = res.NodeOutputs
	}

	if runErr == nil {
		exec.Output = res.Output
		if err := exec.Transition(model.StatusCompleted, m.deps.Now()); err != nil {
			logger.Error("Cannot complete execution.", "error", err)
			return
		}
		m.persist(ctx, exec)
		m.broadcast(ctx, exec.ID, progress.Event{
			Type:        progress.EventCompleted,
			Output:      exec.Output,
			NodeOutputs: exec.NodeOutputs,
		})
		logger.Info("✅ Execution completed.", "duration", exec.Duration())
		return
	}

	exec.Error = runErr.Error()
	if err := exec.Transition(model.StatusFailed, m.deps.Now()); err != nil {
		logger.Error("Cannot fail execution.", "error", err)
		return
	}
	m.persist(ctx, exec)
	m.broadcast(ctx, exec.ID, progress.Event{
		Type:  progress.EventFailed,
		Error: exec.Error,
	})
	logger.Info("❌ Execution failed.", "error", runErr)
}

func (m *Manager) persist(ctx context.Context, exec *model.Execution) {
	if err := m.deps.Executions.Update(ctx, exec); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to persist execution.", "status", exec.Status, "error", err)
	}
}

func (m *Manager) broadcast(ctx context.Context, id string, ev progress.Event) {
	if m.deps.Broadcaster == nil {
		return
	}
	m.deps.Broadcaster.Broadcast(ctx, id, ev)
}
