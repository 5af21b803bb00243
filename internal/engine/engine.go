package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/executor"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/progress"
	"github.com/vk/flowgridgo/internal/repository"
)

// Defaults for Config fields left at zero.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 100
)

// ErrClosed is returned by Run after Shutdown has been called.
var ErrClosed = errors.New("engine is shut down")

// Config sizes the worker pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Deps are the collaborators of a Manager. Executor and Executions are
// required.
type Deps struct {
	Executor    *executor.Executor
	Executions  repository.ExecutionStore
	Broadcaster *progress.Broadcaster

	// Now and NewID are seams for tests.
	Now   func() time.Time
	NewID func() string
}

// Manager owns the execution lifecycle: queueing, dispatch, state
// transitions, persistence, progress events and cancellation.
type Manager struct {
	cfg  Config
	deps Deps

	jobs chan *job

	base   context.Context
	stop   context.CancelFunc
	logger *slog.Logger
	start  sync.Once
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	active map[string]*handle
}

type job struct {
	ctx  context.Context
	exec *model.Execution
	wf   *model.Workflow
}

// handle tracks a run that has not reached a terminal state yet.
type handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager. Workers are not running until Start is called, but
// Run already accepts work up to the queue size.
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Executor == nil {
		return nil, errors.New("engine: executor is required")
	}
	if deps.Executions == nil {
		return nil, errors.New("engine: execution store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	base, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		jobs:   make(chan *job, cfg.QueueSize),
		base:   base,
		stop:   stop,
		logger: slog.Default(),
		active: make(map[string]*handle),
	}, nil
}

// Start launches the worker pool. Runs inherit the logger of ctx, and
// cancelling ctx cancels every run. Calling Start more than once has no
// effect.
func (m *Manager) Start(ctx context.Context) {
	m.start.Do(func() {
		m.logger = ctxlog.FromContext(ctx)
		context.AfterFunc(ctx, m.stop)

		m.logger.Debug("Starting worker pool.", "workers", m.cfg.Workers, "queueSize", m.cfg.QueueSize)
		m.wg.Add(m.cfg.Workers)
		for i := 0; i < m.cfg.Workers; i++ {
			go m.worker(i)
		}
	})
}

// Run records a pending execution of wf with input and queues it. It
// returns as soon as the job is queued. When the queue is full the record is
// marked failed and the returned error wraps flowerr.ErrQueueFull; the id is
// still returned so the failed record can be looked up.
func (m *Manager) Run(ctx context.Context, wf *model.Workflow, input map[string]any) (string, error) {
	logger := ctxlog.FromContext(ctx)

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return "", ErrClosed
	}

	exec := model.NewExecution(m.deps.NewID(), wf.ID, model.CloneMap(input), m.deps.Now())
	if err := m.deps.Executions.Create(ctx, exec); err != nil {
		return "", fmt.Errorf("failed to create execution record: %w", err)
	}

	runCtx, cancel := context.WithCancel(m.base)
	j := &job{ctx: runCtx, exec: exec, wf: wf.Clone()}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		m.reject(ctx, exec, ErrClosed)
		return exec.ID, ErrClosed
	}
	m.active[exec.ID] = &handle{cancel: cancel, done: make(chan struct{})}
	select {
	case m.jobs <- j:
		m.mu.Unlock()
	default:
		delete(m.active, exec.ID)
		m.mu.Unlock()
		cancel()
		logger.Warn("Execution queue is full, rejecting run.", "executionID", exec.ID, "workflowID", wf.ID)
		m.reject(ctx, exec, flowerr.ErrQueueFull)
		return exec.ID, fmt.Errorf("execution %s: %w", exec.ID, flowerr.ErrQueueFull)
	}

	logger.Info("Execution queued.", "executionID", exec.ID, "workflowID", wf.ID)
	return exec.ID, nil
}

// reject finalizes a record that never reached a worker.
func (m *Manager) reject(ctx context.Context, exec *model.Execution, cause error) {
	exec.Error = cause.Error()
	if err := exec.Transition(model.StatusFailed, m.deps.Now()); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to reject execution.", "executionID", exec.ID, "error", err)
		return
	}
	if err := m.deps.Executions.Update(context.WithoutCancel(ctx), exec); err != nil {
		ctxlog.FromContext(ctx).Error("Failed to persist rejected execution.", "executionID", exec.ID, "error", err)
	}
}

// Cancel stops a pending or running execution. A pending execution is
// finalized as failed without running any node. Unknown and already
// finished ids return an error wrapping flowerr.ErrRunNotFound.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	h, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", flowerr.ErrRunNotFound, id)
	}
	ctxlog.FromContext(ctx).Info("Cancelling execution.", "executionID", id)
	h.cancel()
	return nil
}

// Execution returns the current record of an execution. While a run is in
// progress the record holds the node outputs recorded so far.
func (m *Manager) Execution(ctx context.Context, id string) (*model.Execution, error) {
	exec, err := m.deps.Executions.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", flowerr.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// Wait blocks until the execution reaches a terminal state or ctx is done,
// and returns its final record.
func (m *Manager) Wait(ctx context.Context, id string) (*model.Execution, error) {
	m.mu.Lock()
	h, ok := m.active[id]
	m.mu.Unlock()
	if ok {
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.Execution(ctx, id)
}

// Active returns the number of executions that are pending or running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown stops accepting work, cancels every pending and running
// execution, and waits for the workers to finalize them or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()

	m.stop()
	// Without Start nothing drains the queue.
	m.start.Do(func() {
		m.wg.Add(1)
		go m.worker(0)
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Debug("Worker pool stopped.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("engine shutdown: %w", ctx.Err())
	}
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	h, ok := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()
	if ok {
		h.cancel()
		close(h.done)
	}
}
