// Package api is the HTTP surface of the service: workflow CRUD, execution
// control, and live progress over WebSocket and Socket.IO.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/progress"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/repository"
	"github.com/zishang520/socket.io/v2/socket"
)

// Runner starts and controls executions. *engine.Manager implements it.
type Runner interface {
	Run(ctx context.Context, wf *model.Workflow, input map[string]any) (string, error)
	Cancel(ctx context.Context, id string) error
	Execution(ctx context.Context, id string) (*model.Execution, error)
}

// Deps are the collaborators of the HTTP server. MCP is optional.
type Deps struct {
	Workflows   repository.WorkflowStore
	Executions  repository.ExecutionStore
	Runner      Runner
	Registry    *registry.Registry
	Broadcaster *progress.Broadcaster
	MCP         http.Handler
	Logger      *slog.Logger
}

// Config holds transport settings.
type Config struct {
	CORSOrigins []string
}

// Server routes HTTP requests to the handlers of this package.
type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	sio    *socket.Server
	now    func() time.Time
}

// New creates a Server. The Socket.IO server is created here and released by
// Close.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	s.sio = s.newSocketIO()
	return s
}

// Handler returns the fully wrapped router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/workflows", s.handleListWorkflows).Methods(http.MethodGet)
	api.HandleFunc("/workflows", s.handleCreateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}", s.handleGetWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/workflows/{id}", s.handleUpdateWorkflow).Methods(http.MethodPut)
	api.HandleFunc("/workflows/{id}", s.handleDeleteWorkflow).Methods(http.MethodDelete)
	api.HandleFunc("/workflows/{id}/validate", s.handleValidateWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/execute", s.handleExecuteWorkflow).Methods(http.MethodPost)
	api.HandleFunc("/workflows/{id}/executions", s.handleListExecutions).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet)
	api.HandleFunc("/executions/{id}/cancel", s.handleCancelExecution).Methods(http.MethodPost)

	r.HandleFunc("/ws/executions/{id}", s.handleExecutionSocket).Methods(http.MethodGet)
	r.PathPrefix("/socket.io/").Handler(s.sio.ServeHandler(nil))

	if s.deps.MCP != nil {
		r.Handle("/mcp/sse", s.deps.MCP)
		r.Handle("/mcp/message", s.deps.MCP)
	}

	var h http.Handler = r
	h = handlers.CORS(
		handlers.AllowedOrigins(s.cfg.CORSOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
	return h
}

// Close releases the Socket.IO server and its client connections.
func (s *Server) Close() {
	s.sio.Close(nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
