package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vk/flowgridgo/internal/progress"
	"github.com/zishang520/socket.io/v2/socket"
)

// Socket.IO event names.
const (
	sioSubscribe   = "subscribe"
	sioUnsubscribe = "unsubscribe"
	sioCancel      = "cancel"
	sioProgress    = "progress"
	sioError       = "error"
)

type emitter interface {
	Emit(ev string, args ...any) error
}

// sioObserver forwards progress events to one Socket.IO client. Only the
// first terminal event of an execution is forwarded.
type sioObserver struct {
	id       string
	client   emitter
	mu       sync.Mutex
	terminal map[string]*terminalOnce
}

func (o *sioObserver) ID() string { return o.id }

func (o *sioObserver) Send(_ context.Context, ev progress.Event) error {
	o.mu.Lock()
	once, ok := o.terminal[ev.ExecutionID]
	if !ok {
		once = &terminalOnce{}
		o.terminal[ev.ExecutionID] = once
	}
	o.mu.Unlock()
	if !once.admit(ev) {
		return nil
	}
	return o.client.Emit(sioProgress, ev)
}

// sioSession is the per-connection state: the executions the client follows.
type sioSession struct {
	obs     *sioObserver
	runner  Runner
	bc      *progress.Broadcaster
	logger  *slog.Logger
	mu      sync.Mutex
	watched map[string]struct{}
}

func newSIOSession(id string, client emitter, runner Runner, bc *progress.Broadcaster, logger *slog.Logger) *sioSession {
	return &sioSession{
		obs:     &sioObserver{id: id, client: client, terminal: make(map[string]*terminalOnce)},
		runner:  runner,
		bc:      bc,
		logger:  logger.With("socketID", id),
		watched: make(map[string]struct{}),
	}
}

func (s *sioSession) subscribe(args ...any) {
	id, ok := executionIDArg(args)
	if !ok {
		s.emitError("subscribe requires an execution id")
		return
	}
	s.mu.Lock()
	s.watched[id] = struct{}{}
	s.mu.Unlock()
	s.bc.Subscribe(id, s.obs)
	s.logger.Debug("Socket.IO client subscribed.", "executionID", id)

	exec, err := s.runner.Execution(context.Background(), id)
	if err != nil {
		s.logger.Debug("Execution lookup after subscribe failed.", "executionID", id, "error", err)
		return
	}
	if ev, done := terminalEvent(exec); done {
		if err := s.obs.Send(context.Background(), ev); err != nil {
			s.logger.Debug("Failed to send terminal event.", "executionID", id, "error", err)
		}
	}
}

func (s *sioSession) unsubscribe(args ...any) {
	id, ok := executionIDArg(args)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.watched, id)
	s.mu.Unlock()
	s.bc.Unsubscribe(id, s.obs.ID())
	s.obs.mu.Lock()
	delete(s.obs.terminal, id)
	s.obs.mu.Unlock()
}

func (s *sioSession) cancel(args ...any) {
	id, ok := executionIDArg(args)
	if !ok {
		s.emitError("cancel requires an execution id")
		return
	}
	if err := s.runner.Cancel(context.Background(), id); err != nil {
		s.emitError(err.Error())
	}
}

func (s *sioSession) emitError(msg string) {
	if err := s.obs.client.Emit(sioError, msg); err != nil {
		s.logger.Debug("Failed to emit Socket.IO error.", "message", msg, "error", err)
	}
}

func (s *sioSession) disconnect(...any) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.watched))
	for id := range s.watched {
		ids = append(ids, id)
	}
	s.watched = make(map[string]struct{})
	s.mu.Unlock()

	for _, id := range ids {
		s.bc.Unsubscribe(id, s.obs.ID())
	}
	s.logger.Debug("Socket.IO client disconnected.", "unsubscribed", len(ids))
}

// executionIDArg accepts either a bare id or an object with execution_id.
func executionIDArg(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	switch v := args[0].(type) {
	case string:
		return v, v != ""
	case map[string]any:
		id, ok := v["execution_id"].(string)
		return id, ok && id != ""
	default:
		return "", false
	}
}

func (s *Server) newSocketIO() *socket.Server {
	io := socket.NewServer(nil, nil)
	io.On("connection", func(clients ...any) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		sess := newSIOSession(string(client.Id()), client, s.deps.Runner, s.deps.Broadcaster, s.logger)
		client.On(sioSubscribe, sess.subscribe)
		client.On(sioUnsubscribe, sess.unsubscribe)
		client.On(sioCancel, sess.cancel)
		client.On("disconnect", sess.disconnect)
		sess.logger.Debug("Socket.IO client connected.")
	})
	return io
}
