package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vk/flowgridgo/internal/engine"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/repository"
)

var (
	ErrInternalServerError = errors.New("internal server error")
	ErrInvalidJSON         = errors.New("invalid JSON")
	ErrInvalidWorkflow     = errors.New("invalid workflow")
	ErrMissingName         = errors.New("name is required")
)

func errorToJSON(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, flowerr.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidJSON):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidWorkflow),
		errors.Is(err, flowerr.ErrGraphReference),
		errors.Is(err, flowerr.ErrUnknownNodeType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, flowerr.ErrQueueFull), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the JSON error body for err. Internal errors are logged
// and hidden from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		loggerFrom(r).Error("Request failed.", "error", err)
		err = ErrInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(errorToJSON(err)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
