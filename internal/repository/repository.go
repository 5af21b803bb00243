// Package repository persists workflow definitions and execution records.
//
// Two implementations are provided: an in-memory store used when no database
// is configured, and a Postgres store backed by pgx. Both are safe for
// concurrent use and hand out copies, so callers may mutate what they get.
package repository

import (
	"context"
	"errors"

	"github.com/vk/flowgridgo/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// WorkflowStore stores workflow definitions.
type WorkflowStore interface {
	// Create inserts a new workflow. The caller assigns the id and timestamps.
	Create(ctx context.Context, wf *model.Workflow) error

	// Get returns the workflow with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Workflow, error)

	// Update replaces an existing workflow or returns ErrNotFound.
	Update(ctx context.Context, wf *model.Workflow) error

	// Delete removes a workflow. Executions that reference it are kept.
	Delete(ctx context.Context, id string) error

	// List returns all workflows, oldest first.
	List(ctx context.Context) ([]*model.Workflow, error)
}

// ExecutionStore stores execution records.
type ExecutionStore interface {
	Create(ctx context.Context, exec *model.Execution) error
	Get(ctx context.Context, id string) (*model.Execution, error)
	Update(ctx context.Context, exec *model.Execution) error

	// ListByWorkflow returns the executions of one workflow, most recent first.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error)
}
