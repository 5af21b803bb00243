package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vk/flowgridgo/internal/model"
)

// MemoryWorkflowStore is a WorkflowStore held in process memory.
type MemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*model.Workflow
}

var _ WorkflowStore = (*MemoryWorkflowStore)(nil)

// NewMemoryWorkflowStore returns an empty store.
func NewMemoryWorkflowStore() *MemoryWorkflowStore {
	return &MemoryWorkflowStore{workflows: make(map[string]*model.Workflow)}
}

func (s *MemoryWorkflowStore) Create(_ context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrAlreadyExists)
	}
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

func (s *MemoryWorkflowStore) Get(_ context.Context, id string) (*model.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return wf.Clone(), nil
}

func (s *MemoryWorkflowStore) Update(_ context.Context, wf *model.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[wf.ID]; !ok {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrNotFound)
	}
	s.workflows[wf.ID] = wf.Clone()
	return nil
}

func (s *MemoryWorkflowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	delete(s.workflows, id)
	return nil
}

func (s *MemoryWorkflowStore) List(_ context.Context) ([]*model.Workflow, error) {
	s.mu.RLock()
	out := make([]*model.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		out = append(out, wf.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryExecutionStore is an ExecutionStore held in process memory.
type MemoryExecutionStore struct {
	mu         sync.RWMutex
	executions map[string]*model.Execution
}

var _ ExecutionStore = (*MemoryExecutionStore)(nil)

// NewMemoryExecutionStore returns an empty store.
func NewMemoryExecutionStore() *MemoryExecutionStore {
	return &MemoryExecutionStore{executions: make(map[string]*model.Execution)}
}

func (s *MemoryExecutionStore) Create(_ context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; ok {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrAlreadyExists)
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryExecutionStore) Get(_ context.Context, id string) (*model.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executions[id]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return exec.Clone(), nil
}

func (s *MemoryExecutionStore) Update(_ context.Context, exec *model.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[exec.ID]; !ok {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrNotFound)
	}
	s.executions[exec.ID] = exec.Clone()
	return nil
}

func (s *MemoryExecutionStore) ListByWorkflow(_ context.Context, workflowID string) ([]*model.Execution, error) {
	s.mu.RLock()
	out := make([]*model.Execution, 0)
	for _, exec := range s.executions {
		if exec.WorkflowID == workflowID {
			out = append(out, exec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
