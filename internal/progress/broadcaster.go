// Package progress fans execution lifecycle events out to live observers.
//
// The Broadcaster is an explicitly owned registry keyed by execution id. An
// entry is created on the first Subscribe for an id and removed as soon as
// its last observer leaves, either through Unsubscribe or by eviction after
// a failed send. Delivery is best-effort: a failing observer never delays
// the others for longer than the send timeout and never fails the run.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
)

// DefaultSendTimeout bounds a single observer's Send.
const DefaultSendTimeout = 5 * time.Second

// EventType names a lifecycle event.
type EventType string

const (
	EventStart         EventType = "start"
	EventNodeCompleted EventType = "node_completed"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
)

// Event is one progress notification. Which optional fields are set depends
// on Type.
type Event struct {
	Type         EventType                 `json:"type"`
	ExecutionID  string                    `json:"execution_id"`
	Timestamp    time.Time                 `json:"timestamp"`
	WorkflowID   string                    `json:"workflow_id,omitempty"`
	WorkflowName string                    `json:"workflow_name,omitempty"`
	NodeID       string                    `json:"node_id,omitempty"`
	Output       map[string]any            `json:"output,omitempty"`
	NodeOutputs  map[string]map[string]any `json:"node_outputs,omitempty"`
	Error        string                    `json:"error,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

// Observer receives events for the executions it is subscribed to.
// Implementations must be comparable; pointer receivers are the norm.
type Observer interface {
	ID() string
	Send(ctx context.Context, ev Event) error
}

// Broadcaster is the observer registry. It is safe for concurrent use.
type Broadcaster struct {
	mu          sync.RWMutex
	observers   map[string]map[string]Observer
	sendTimeout time.Duration
}

// NewBroadcaster returns an empty registry. A non-positive sendTimeout
// selects DefaultSendTimeout.
func NewBroadcaster(sendTimeout time.Duration) *Broadcaster {
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	return &Broadcaster{
		observers:   make(map[string]map[string]Observer),
		sendTimeout: sendTimeout,
	}
}

// Subscribe registers obs for executionID. Subscribing an observer ID that
// is already present replaces it.
func (b *Broadcaster) Subscribe(executionID string, obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.observers[executionID]
	if !ok {
		set = make(map[string]Observer)
		b.observers[executionID] = set
	}
	set[obs.ID()] = obs
}

// Unsubscribe removes an observer. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(executionID, observerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(executionID, observerID)
}

func (b *Broadcaster) removeLocked(executionID, observerID string) {
	set, ok := b.observers[executionID]
	if !ok {
		return
	}
	delete(set, observerID)
	if len(set) == 0 {
		delete(b.observers, executionID)
	}
}

// Count returns the number of observers subscribed to executionID.
func (b *Broadcaster) Count(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers[executionID])
}

// Executions returns the number of executions with at least one observer.
func (b *Broadcaster) Executions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}

// Broadcast delivers ev to every observer of executionID and returns once
// each send has finished or timed out. Observers whose send failed are
// evicted. With no observers it does nothing.
func (b *Broadcaster) Broadcast(ctx context.Context, executionID string, ev Event) {
	b.mu.RLock()
	set := b.observers[executionID]
	targets := make([]Observer, 0, len(set))
	for _, obs := range set {
		targets = append(targets, obs)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	if ev.ExecutionID == "" {
		ev.ExecutionID = executionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	logger := ctxlog.FromContext(ctx)
	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []Observer
	)
	for _, obs := range targets {
		wg.Add(1)
		go func(obs Observer) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.sendTimeout)
			defer cancel()
			if err := obs.Send(sendCtx, ev); err != nil {
				logger.Debug("Evicting observer after failed send.", "executionID", executionID, "observerID", obs.ID(), "error", err)
				failMu.Lock()
				failed = append(failed, obs)
				failMu.Unlock()
			}
		}(obs)
	}
	wg.Wait()

	if len(failed) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, obs := range failed {
		// Only evict the instance that failed, not a replacement that
		// subscribed under the same id in the meantime.
		if current, ok := b.observers[executionID][obs.ID()]; ok && current == obs {
			b.removeLocked(executionID, obs.ID())
		}
	}
}
