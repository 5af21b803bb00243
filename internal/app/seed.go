package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/dag"
	"github.com/vk/flowgridgo/internal/fsutil"
	"github.com/vk/flowgridgo/internal/repository"
)

// seedWorkflows imports every *.json workflow under dir into store. A file
// without an id is keyed by its base name, so restarts do not duplicate it.
// Workflows that already exist are left alone; invalid ones are skipped.
func (a *App) seedWorkflows(ctx context.Context, store repository.WorkflowStore, dir string) error {
	logger := ctxlog.FromContext(ctx).With("dir", dir)

	files, err := fsutil.FindFilesByExtension(dir, ".json")
	if err != nil {
		return fmt.Errorf("failed to scan workflows dir: %w", err)
	}

	var imported int
	for _, path := range files {
		wf, err := loadWorkflowFile(path)
		if err != nil {
			logger.Warn("Skipping unreadable workflow.", "path", path, "error", err)
			continue
		}
		if wf.ID == "" {
			wf.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		if _, err := dag.ValidateAndOrder(wf); err != nil {
			logger.Warn("Skipping invalid workflow.", "path", path, "error", err)
			continue
		}
		now := time.Now().UTC()
		if wf.CreatedAt.IsZero() {
			wf.CreatedAt = now
		}
		wf.UpdatedAt = now

		err = store.Create(ctx, wf)
		switch {
		case errors.Is(err, repository.ErrAlreadyExists):
			logger.Debug("Workflow already present.", "workflowID", wf.ID)
		case err != nil:
			return fmt.Errorf("failed to import %s: %w", path, err)
		default:
			imported++
		}
	}
	logger.Info("Workflows imported.", "found", len(files), "imported", imported)
	return nil
}
