// Package inmemorystore provides an ephemeral, thread-safe, in-memory
// implementation of the nodestore.Store interface.
//
// # Concurrency Model
//
// Outputs live in a sync.Map: every node id is written once and then only
// read, which is the access pattern sync.Map is optimized for. The final
// output needs last-write-wins ordering across several output nodes, so it
// sits behind its own mutex.
//
// Values handed in and out are deep-copied, so callers can keep mutating the
// maps they passed without corrupting the recorded state.
package inmemorystore

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/nodestore"
)

// Store is an in-memory implementation of nodestore.Store.
type Store struct {
	outputs sync.Map // Key: node id, Value: map[string]any

	mu    sync.Mutex
	final map[string]any
}

// New creates a new, empty in-memory node store.
func New() nodestore.Store {
	return &Store{}
}

// SetOutput records the output of a node exactly once.
func (s *Store) SetOutput(ctx context.Context, nodeID string, nodeType model.NodeType, output map[string]any) error {
	if output == nil {
		output = map[string]any{}
	}
	if _, loaded := s.outputs.LoadOrStore(nodeID, model.CloneMap(output)); loaded {
		return fmt.Errorf("%w: %s", nodestore.ErrAlreadyRecorded, nodeID)
	}
	if nodeType == model.NodeOutput {
		s.mu.Lock()
		s.final = model.CloneMap(output)
		s.mu.Unlock()
	}
	return nil
}

// GetOutput retrieves the recorded output of a node.
func (s *Store) GetOutput(ctx context.Context, nodeID string) (map[string]any, bool, error) {
	v, ok := s.outputs.Load(nodeID)
	if !ok {
		return nil, false, nil
	}
	return model.CloneMap(v.(map[string]any)), true, nil
}

// Snapshot returns a copy of every recorded output.
func (s *Store) Snapshot(ctx context.Context) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any)
	s.outputs.Range(func(k, v any) bool {
		out[k.(string)] = model.CloneMap(v.(map[string]any))
		return true
	})
	return out, nil
}

// FinalOutput returns the output of the last executed output node.
func (s *Store) FinalOutput(ctx context.Context) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.final == nil {
		return map[string]any{}, nil
	}
	return model.CloneMap(s.final), nil
}
