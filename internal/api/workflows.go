package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/dag"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
)

func loggerFrom(r *http.Request) *slog.Logger {
	return ctxlog.FromContext(r.Context())
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// untouched when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return nil
}

// validate checks that every node type is known, every node can be built
// from its params, and the graph is well formed. It returns the execution
// order.
func (s *Server) validate(wf *model.Workflow) ([]string, error) {
	if wf.Name == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidWorkflow, ErrMissingName)
	}
	order, err := dag.ValidateAndOrder(wf)
	if err != nil {
		return order, err
	}
	for _, n := range wf.Nodes {
		if !n.Type.Valid() {
			return order, &flowerr.UnknownNodeTypeError{Type: string(n.Type), Valid: s.deps.Registry.Types()}
		}
		if _, err := s.deps.Registry.Build(n); err != nil {
			return order, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
		}
		if _, err := s.deps.Registry.Timeout(n); err != nil {
			return order, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err)
		}
	}
	return order, nil
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Workflows.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var wf model.Workflow
	if err := decodeBody(r, &wf, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.validate(&wf); err != nil {
		s.writeError(w, r, err)
		return
	}

	now := s.now()
	wf.ID = uuid.NewString()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if err := s.deps.Workflows.Create(r.Context(), &wf); err != nil {
		s.writeError(w, r, err)
		return
	}
	loggerFrom(r).Info("Workflow created.", "workflowID", wf.ID, "nodes", len(wf.Nodes))
	writeJSON(w, http.StatusCreated, wf)
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Workflows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, err := s.deps.Workflows.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var wf model.Workflow
	if err := decodeBody(r, &wf, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.validate(&wf); err != nil {
		s.writeError(w, r, err)
		return
	}

	wf.ID = id
	wf.CreatedAt = existing.CreatedAt
	wf.UpdatedAt = s.now()
	if err := s.deps.Workflows.Update(r.Context(), &wf); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Workflows.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type validateResponse struct {
	Valid bool     `json:"valid"`
	Order []string `json:"order"`
	Error string   `json:"error,omitempty"`
}

func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	wf, err := s.deps.Workflows.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.validate(wf)
	if order == nil {
		order = []string{}
	}
	resp := validateResponse{Valid: err == nil, Order: order}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
