package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/repository"
	"github.com/vk/flowgridgo/internal/retrieval"
)

// backends are the storage collaborators chosen from the settings.
type backends struct {
	workflows  repository.WorkflowStore
	executions repository.ExecutionStore
	retriever  retrieval.Retriever
	close      func()
}

// openBackends connects to Postgres when a database URL is configured and
// falls back to in-memory stores otherwise. Retrieval needs both the
// database and an embedding service.
func (a *App) openBackends(ctx context.Context) (*backends, error) {
	logger := ctxlog.FromContext(ctx)
	s := a.config.Settings

	if s.Database.URL == "" {
		logger.Info("No database configured, using in-memory storage.")
		return &backends{
			workflows:  repository.NewMemoryWorkflowStore(),
			executions: repository.NewMemoryExecutionStore(),
			close:      func() {},
		}, nil
	}

	pool, err := pgxpool.New(ctx, s.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Connected to Postgres.")

	b := &backends{
		workflows:  repository.NewPostgresWorkflowStore(pool),
		executions: repository.NewPostgresExecutionStore(pool),
		close:      pool.Close,
	}
	if s.Embedding.URL != "" {
		b.retriever = retrieval.NewPGVector(pool, retrieval.NewHTTPEmbedder(s.Embedding.URL))
	} else {
		logger.Warn("No embedding service configured, retrieval nodes are disabled.")
	}
	return b, nil
}
