package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vk/flowgridgo/internal/api"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/engine"
	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/mcpserver"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/progress"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/repository"
	"github.com/vk/flowgridgo/internal/retrieval"
	"github.com/vk/flowgridgo/internal/watch"
)

const shutdownTimeout = 10 * time.Second

// Run executes the configured mode until it finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "mode", a.config.Mode)

	switch a.config.Mode {
	case ModeRun:
		return a.runOnce(ctx)
	case ModeWatch:
		return a.watch(ctx)
	default:
		return a.serve(ctx)
	}
}

// services are the execution collaborators of the serve and run modes.
type services struct {
	registry    *registry.Registry
	manager     *engine.Manager
	broadcaster *progress.Broadcaster
}

func (a *App) newServices(ctx context.Context, retriever retrieval.Retriever, executions repository.ExecutionStore) (*services, error) {
	reg := a.newRegistry(ctx, retriever)
	exec, err := executor.New(reg)
	if err != nil {
		return nil, err
	}
	bc := progress.NewBroadcaster(0)
	mgr, err := engine.New(engine.Config{
		Workers:   a.config.Settings.Engine.Workers,
		QueueSize: a.config.Settings.Engine.QueueSize,
	}, engine.Deps{
		Executor:    exec,
		Executions:  executions,
		Broadcaster: bc,
	})
	if err != nil {
		return nil, err
	}
	return &services{registry: reg, manager: mgr, broadcaster: bc}, nil
}

func (a *App) serve(ctx context.Context) error {
	s := a.config.Settings
	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	if s.Server.WorkflowsDir != "" {
		if err := a.seedWorkflows(ctx, b.workflows, s.Server.WorkflowsDir); err != nil {
			return err
		}
	}

	svc, err := a.newServices(ctx, b.retriever, b.executions)
	if err != nil {
		return err
	}
	mgr := svc.manager
	mgr.Start(context.WithoutCancel(ctx))

	apiServer := api.New(api.Config{CORSOrigins: s.Server.CORSOrigins}, api.Deps{
		Workflows:   b.workflows,
		Executions:  b.executions,
		Runner:      mgr,
		Registry:    svc.registry,
		Broadcaster: svc.broadcaster,
		MCP:         mcpserver.NewServer(Version, b.workflows, mgr).Handler(),
		Logger:      a.logger,
	})
	defer apiServer.Close()

	a.startHealthcheckServer(ctx, s.Server.HealthcheckPort)

	ln, err := net.Listen("tcp", s.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Server.Addr, err)
	}
	httpServer := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(ln) }()
	a.logger.Info("🚀 Flowgrid server listening.", "address", ln.Addr().String())
	if a.onListen != nil {
		a.onListen(ln.Addr().String())
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested.")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		runErr = errors.Join(runErr, fmt.Errorf("http shutdown: %w", err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	a.logger.Info("🏁 Server stopped.")
	return runErr
}

// loadWorkflowFile reads a workflow document from a JSON file.
func loadWorkflowFile(path string) (*model.Workflow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow: %w", err)
	}
	var wf model.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}
	return &wf, nil
}

// runOnce executes a workflow file in-process and prints the final record.
// A failed execution is returned as an error after the record is printed.
func (a *App) runOnce(ctx context.Context) error {
	wf, err := loadWorkflowFile(a.config.WorkflowPath)
	if err != nil {
		return err
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	svc, err := a.newServices(ctx, b.retriever, b.executions)
	if err != nil {
		return err
	}
	mgr := svc.manager
	mgr.Start(ctx)

	a.logger.Info("🚀 Starting workflow run.", "workflowID", wf.ID, "nodes", len(wf.Nodes))
	input := a.config.Input
	if input == nil {
		input = map[string]any{}
	}
	id, err := mgr.Run(ctx, wf, input)
	if err != nil {
		return fmt.Errorf("failed to start execution: %w", err)
	}
	// Cancelling ctx cancels the run, which still reaches a final record.
	exec, err := mgr.Wait(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("Engine shutdown incomplete.", "error", err)
	}

	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exec); err != nil {
		return fmt.Errorf("failed to write execution: %w", err)
	}
	if exec.Status == model.StatusFailed {
		return fmt.Errorf("execution %s failed: %s", exec.ID, exec.Error)
	}
	a.logger.Info("🏁 Execution finished.", "executionID", exec.ID)
	return nil
}

func (a *App) watch(ctx context.Context) error {
	ev, err := watch.Watch(ctx, watch.Options{
		ServerURL:   a.config.ServerURL,
		ExecutionID: a.config.ExecutionID,
		Out:         a.outW,
	})
	if err != nil {
		return fmt.Errorf("watch failed: %w", err)
	}
	if ev.Type == progress.EventFailed {
		return fmt.Errorf("execution %s failed: %s", ev.ExecutionID, ev.Error)
	}
	return nil
}
