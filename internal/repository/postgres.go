package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vk/flowgridgo/internal/model"
)

// Querier is the subset of pgx used by the Postgres stores. Both
// *pgxpool.Pool and pgx.Tx satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS workflows (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    data       JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE TABLE IF NOT EXISTS executions (
    id          TEXT PRIMARY KEY,
    workflow_id TEXT NOT NULL,
    status      TEXT NOT NULL,
    data        JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	`CREATE INDEX IF NOT EXISTS idx_executions_workflow_created
    ON executions (workflow_id, created_at DESC)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
func EnsureSchema(ctx context.Context, db Querier) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// PostgresWorkflowStore keeps each workflow as one JSONB document.
type PostgresWorkflowStore struct {
	db Querier
}

var _ WorkflowStore = (*PostgresWorkflowStore)(nil)

// NewPostgresWorkflowStore returns a store using db.
func NewPostgresWorkflowStore(db Querier) *PostgresWorkflowStore {
	return &PostgresWorkflowStore{db: db}
}

func (s *PostgresWorkflowStore) Create(ctx context.Context, wf *model.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", wf.ID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO workflows (id, name, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		wf.ID, wf.Name, data, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return wrapWriteError("workflow", wf.ID, err)
	}
	return nil
}

func (s *PostgresWorkflowStore) Get(ctx context.Context, id string) (*model.Workflow, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM workflows WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	var wf model.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", id, err)
	}
	return &wf, nil
}

func (s *PostgresWorkflowStore) Update(ctx context.Context, wf *model.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow %s: %w", wf.ID, err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE workflows SET name = $2, data = $3, updated_at = $4 WHERE id = $1`,
		wf.ID, wf.Name, data, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update workflow %s: %w", wf.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", wf.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresWorkflowStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresWorkflowStore) List(ctx context.Context) ([]*model.Workflow, error) {
	rows, err := s.db.Query(ctx, `SELECT data FROM workflows ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return scanDocuments[model.Workflow](rows)
}

// PostgresExecutionStore keeps each execution record as one JSONB document.
// status and workflow_id are duplicated into columns for filtering.
type PostgresExecutionStore struct {
	db Querier
}

var _ ExecutionStore = (*PostgresExecutionStore)(nil)

// NewPostgresExecutionStore returns a store using db.
func NewPostgresExecutionStore(db Querier) *PostgresExecutionStore {
	return &PostgresExecutionStore{db: db}
}

func (s *PostgresExecutionStore) Create(ctx context.Context, exec *model.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO executions (id, workflow_id, status, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
		exec.ID, exec.WorkflowID, string(exec.Status), data, exec.CreatedAt)
	if err != nil {
		return wrapWriteError("execution", exec.ID, err)
	}
	return nil
}

func (s *PostgresExecutionStore) Get(ctx context.Context, id string) (*model.Execution, error) {
	var data []byte
	err := s.db.QueryRow(ctx, `SELECT data FROM executions WHERE id = $1`, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get execution %s: %w", id, err)
	}
	var exec model.Execution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", id, err)
	}
	return &exec, nil
}

func (s *PostgresExecutionStore) Update(ctx context.Context, exec *model.Execution) error {
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", exec.ID, err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE executions SET status = $2, data = $3 WHERE id = $1`,
		exec.ID, string(exec.Status), data)
	if err != nil {
		return fmt.Errorf("update execution %s: %w", exec.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresExecutionStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*model.Execution, error) {
	rows, err := s.db.Query(ctx,
		`SELECT data FROM executions WHERE workflow_id = $1 ORDER BY created_at DESC, id DESC`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list executions of %s: %w", workflowID, err)
	}
	return scanDocuments[model.Execution](rows)
}

// scanDocuments decodes a single JSONB column per row. It always returns a
// non-nil slice on success.
func scanDocuments[T any](rows pgx.Rows) ([]*T, error) {
	defer rows.Close()

	out := make([]*T, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		doc := new(T)
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

func wrapWriteError(kind, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s %s: %w", kind, id, ErrAlreadyExists)
	}
	return fmt.Errorf("create %s %s: %w", kind, id, err)
}
