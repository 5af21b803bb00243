package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vk/flowgridgo/internal/progress"
)

// stream hands events from Socket.IO callbacks to the waiting caller.
// Callbacks never block once the caller has gone.
type stream struct {
	out       io.Writer
	events    chan progress.Event
	errs      chan error
	done      chan struct{}
	closeOnce sync.Once
	connected atomic.Bool
}

func newStream(out io.Writer) *stream {
	if out == nil {
		out = io.Discard
	}
	return &stream{
		out:    out,
		events: make(chan progress.Event, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *stream) markConnected() { s.connected.Store(true) }

func (s *stream) close() { s.closeOnce.Do(func() { close(s.done) }) }

func (s *stream) handleProgress(data ...any) {
	ev, err := decodeEvent(data)
	if err != nil {
		s.fail(err)
		return
	}
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *stream) handleServerError(data ...any) {
	if len(data) == 0 {
		s.fail(fmt.Errorf("server error"))
		return
	}
	s.fail(fmt.Errorf("server error: %v", data[0]))
}

func (s *stream) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// wait prints events until a terminal one arrives. connectTimeout only
// applies until the first successful connection.
func (s *stream) wait(ctx context.Context, connectTimeout time.Duration) (progress.Event, error) {
	timer := time.NewTimer(connectTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return progress.Event{}, ctx.Err()
		case <-timer.C:
			if !s.connected.Load() {
				return progress.Event{}, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
			}
		case err := <-s.errs:
			return progress.Event{}, err
		case ev := <-s.events:
			fmt.Fprintln(s.out, FormatEvent(ev))
			if ev.Terminal() {
				return ev, nil
			}
		}
	}
}

// FormatEvent renders ev as one human-readable line.
func FormatEvent(ev progress.Event) string {
	ts := ev.Timestamp.Format(time.TimeOnly)
	switch ev.Type {
	case progress.EventStart:
		return fmt.Sprintf("%s ▶️ Execution %s started (workflow %s).", ts, ev.ExecutionID, workflowLabel(ev))
	case progress.EventNodeCompleted:
		return fmt.Sprintf("%s ✅ Node %s completed.", ts, ev.NodeID)
	case progress.EventCompleted:
		out, _ := json.Marshal(ev.Output)
		return fmt.Sprintf("%s ✅ Execution %s completed: %s", ts, ev.ExecutionID, out)
	case progress.EventFailed:
		return fmt.Sprintf("%s ❌ Execution %s failed: %s", ts, ev.ExecutionID, ev.Error)
	default:
		return fmt.Sprintf("%s %s", ts, ev.Type)
	}
}

func workflowLabel(ev progress.Event) string {
	if ev.WorkflowName == "" {
		return ev.WorkflowID
	}
	return fmt.Sprintf("%s, %s", ev.WorkflowName, ev.WorkflowID)
}
