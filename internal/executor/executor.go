// Package executor runs a single workflow execution from start to finish.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/dag"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/inmemorystore"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/nodestore"
	"github.com/vk/flowgridgo/internal/registry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/vk/flowgridgo/internal/executor"

// NodeHook is called after each node's output has been recorded.
type NodeHook func(ctx context.Context, nodeID string, nodeType model.NodeType, output map[string]any)

// Run describes one execution of a workflow.
type Run struct {
	ExecutionID string
	Workflow    *model.Workflow
	Input       map[string]any
	// Store receives node outputs. A fresh in-memory store is used when nil.
	Store nodestore.Store
	// OnNode is optional.
	OnNode NodeHook
}

// Result is what a run produced. It is returned even when the run fails, in
// which case it holds the outputs of the nodes that did finish.
type Result struct {
	Output      map[string]any
	NodeOutputs map[string]map[string]any
}

// Executor runs workflows node by node in topological order. Nodes of one
// run never execute concurrently. It holds no per-run state and may be
// shared by any number of concurrent runs.
type Executor struct {
	registry *registry.Registry
	metrics  *instruments
}

// Option configures an Executor.
type Option func(*options)

type options struct {
	meterProvider metric.MeterProvider
}

// WithMeterProvider sets the provider used for execution metrics. The global
// otel provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// New creates an Executor that builds nodes through reg.
func New(reg *registry.Registry, opts ...Option) (*Executor, error) {
	o := options{meterProvider: otel.GetMeterProvider()}
	for _, opt := range opts {
		opt(&o)
	}
	m, err := newInstruments(o.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, fmt.Errorf("failed to create executor metrics: %w", err)
	}
	return &Executor{registry: reg, metrics: m}, nil
}

// Execute runs the workflow. A non-nil error means the run failed: the
// graph or a node definition was invalid, a node failed hard, or ctx was
// cancelled (flowerr.ErrCancelled). Soft node failures are recorded as
// `{success: false, error: ...}` outputs and do not stop the run.
func (e *Executor) Execute(ctx context.Context, run Run) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("executionID", run.ExecutionID, "workflowID", run.Workflow.ID)
	ctx = ctxlog.WithLogger(ctx, logger)

	store := run.Store
	if store == nil {
		store = inmemorystore.New()
	}

	res, err := e.execute(ctx, run, store)
	if res == nil {
		res = &Result{Output: map[string]any{}}
	}
	if snap, serr := store.Snapshot(ctx); serr == nil {
		res.NodeOutputs = snap
	}

	status := string(model.StatusCompleted)
	if err != nil {
		status = string(model.StatusFailed)
		logger.Info("❌ Workflow execution failed.", "error", err)
	} else {
		logger.Info("✅ Workflow execution completed.", "nodes", len(res.NodeOutputs))
	}
	e.metrics.recordRun(ctx, status)
	return res, err
}

func (e *Executor) execute(ctx context.Context, run Run, store nodestore.Store) (*Result, error) {
	logger := ctxlog.FromContext(ctx)

	g, order, err := dag.Plan(run.Workflow)
	if err != nil {
		return nil, err
	}
	logger.Debug("Execution order resolved.", "order", order)

	// Every node is built before anything runs so that definition errors
	// fail the run without side effects.
	type planned struct {
		def     model.Node
		node    registry.Node
		timeout time.Duration
	}
	steps := make([]planned, 0, len(order))
	for _, id := range order {
		def, _ := run.Workflow.Node(id)
		node, err := e.registry.Build(def)
		if err != nil {
			return nil, err
		}
		timeout, err := e.registry.Timeout(def)
		if err != nil {
			return nil, err
		}
		steps = append(steps, planned{def: def, node: node, timeout: timeout})
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return nil, flowerr.ErrCancelled
		}

		nodeLogger := logger.With("nodeID", step.def.ID, "nodeType", step.def.Type)
		nodeCtx := ctxlog.WithLogger(ctx, nodeLogger)

		input, err := dag.ResolveInput(nodeCtx, g, step.def.ID, store, run.Input)
		if err != nil {
			return nil, err
		}

		nodeLogger.Debug("▶️ Starting node.")
		output, err := e.runNode(nodeCtx, step.def, step.node, step.timeout, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, flowerr.ErrCancelled
			}
			if !flowerr.IsSoft(err) {
				return nil, fmt.Errorf("node %s (%s): %w", step.def.ID, step.def.Type, err)
			}
			nodeLogger.Warn("Node reported a soft failure.", "error", err)
			output = map[string]any{"success": false, "error": err.Error()}
		}
		if output == nil {
			output = map[string]any{}
		}

		if err := store.SetOutput(nodeCtx, step.def.ID, step.def.Type, output); err != nil {
			return nil, fmt.Errorf("failed to record output of node %s: %w", step.def.ID, err)
		}
		nodeLogger.Debug("✅ Finished node.")

		if run.OnNode != nil {
			recorded, _, err := store.GetOutput(nodeCtx, step.def.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to read output of node %s: %w", step.def.ID, err)
			}
			run.OnNode(nodeCtx, step.def.ID, step.def.Type, recorded)
		}
	}

	if ctx.Err() != nil {
		return nil, flowerr.ErrCancelled
	}

	final, err := store.FinalOutput(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final output: %w", err)
	}
	return &Result{Output: final}, nil
}
