package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/vk/flowgridgo/internal/model"
)

type executeRequest struct {
	Input map[string]any `json:"input"`
}

type executeResponse struct {
	ExecutionID string       `json:"execution_id"`
	Status      model.Status `json:"status"`
}

type rejectedResponse struct {
	Error       string       `json:"error"`
	ExecutionID string       `json:"execution_id"`
	Status      model.Status `json:"status"`
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	loggerFrom(r).Debug("Handling workflow execution.", "workflowID", id)

	var req executeRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Input == nil {
		req.Input = map[string]any{}
	}

	wf, err := s.deps.Workflows.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	execID, err := s.deps.Runner.Run(r.Context(), wf, req.Input)
	if err != nil && execID != "" && statusFor(err) == http.StatusServiceUnavailable {
		// The rejected execution is stored as failed; hand out its id.
		writeJSON(w, http.StatusServiceUnavailable, rejectedResponse{
			Error:       err.Error(),
			ExecutionID: execID,
			Status:      model.StatusFailed,
		})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, executeResponse{ExecutionID: execID, Status: model.StatusPending})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	list, err := s.deps.Executions.ListByWorkflow(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := s.deps.Runner.Execution(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Runner.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"execution_id": id, "status": "cancelling"})
}
