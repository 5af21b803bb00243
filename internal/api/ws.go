package api

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/progress"
)

// Client message types on the execution socket.
const (
	msgPing   = "ping"
	msgPong   = "pong"
	msgCancel = "cancel"
	msgError  = "error"
)

type clientMessage struct {
	Type string `json:"type"`
}

type serverMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

// wsObserver writes progress events to one WebSocket connection as JSON
// text frames. Only the first terminal event is forwarded.
type wsObserver struct {
	id       string
	conn     *websocket.Conn
	mu       sync.Mutex
	terminal terminalOnce
}

func (o *wsObserver) ID() string { return o.id }

func (o *wsObserver) Send(ctx context.Context, ev progress.Event) error {
	if !o.terminal.admit(ev) {
		return nil
	}
	return o.write(ctx, ev)
}

func (o *wsObserver) write(ctx context.Context, v any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(progress.DefaultSendTimeout)
	}
	if err := o.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return o.conn.WriteJSON(v)
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range s.cfg.CORSOrigins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// handleExecutionSocket relays the progress of one execution to a WebSocket
// client until it disconnects. Late joiners of a finished execution receive
// its terminal event straight away.
func (s *Server) handleExecutionSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger := loggerFrom(r).With("executionID", id)

	if _, err := s.deps.Runner.Execution(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed.", "error", err)
		return
	}
	defer conn.Close()

	obs := &wsObserver{id: uuid.NewString(), conn: conn}
	s.deps.Broadcaster.Subscribe(id, obs)
	defer s.deps.Broadcaster.Unsubscribe(id, obs.ID())
	logger.Debug("WebSocket observer connected.", "observerID", obs.ID())

	// The record is read after subscribing so a run that finishes in between
	// is seen either here or through the broadcast.
	ctx := context.WithoutCancel(r.Context())
	if exec, err := s.deps.Runner.Execution(ctx, id); err != nil {
		logger.Debug("Execution lookup after subscribe failed.", "error", err)
	} else if ev, ok := terminalEvent(exec); ok {
		if err := obs.Send(ctx, ev); err != nil {
			logger.Debug("Failed to send terminal event.", "observerID", obs.ID(), "error", err)
			return
		}
	}

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket observer disconnected.", "observerID", obs.ID(), "reason", err)
			return
		}
		var werr error
		switch msg.Type {
		case msgPing:
			werr = obs.write(ctx, serverMessage{Type: msgPong, Timestamp: s.now()})
		case msgCancel:
			if cerr := s.deps.Runner.Cancel(ctx, id); cerr != nil {
				werr = obs.write(ctx, serverMessage{Type: msgError, Timestamp: s.now(), Error: cerr.Error()})
			}
		default:
			logger.Debug("Ignoring unknown WebSocket message.", "type", msg.Type)
		}
		if werr != nil {
			return
		}
	}
}

// terminalOnce lets the first terminal event through and drops the rest. A
// late joiner can see the same ending both from the stored record and from
// the broadcast.
type terminalOnce struct {
	sent atomic.Bool
}

func (t *terminalOnce) admit(ev progress.Event) bool {
	if !ev.Terminal() {
		return true
	}
	return t.sent.CompareAndSwap(false, true)
}

// terminalEvent rebuilds the final event of a finished execution.
func terminalEvent(exec *model.Execution) (progress.Event, bool) {
	ev := progress.Event{ExecutionID: exec.ID, WorkflowID: exec.WorkflowID}
	if exec.CompletedAt != nil {
		ev.Timestamp = *exec.CompletedAt
	}
	switch exec.Status {
	case model.StatusCompleted:
		ev.Type = progress.EventCompleted
		ev.Output = exec.Output
		ev.NodeOutputs = exec.NodeOutputs
	case model.StatusFailed:
		ev.Type = progress.EventFailed
		ev.Error = exec.Error
	default:
		return progress.Event{}, false
	}
	return ev, true
}
