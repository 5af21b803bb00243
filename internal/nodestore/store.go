// Package nodestore defines the Execution Context: the per-run store of node
// outputs that the scheduler reads inputs from and the executor writes
// results to.
//
// # Why Node Store Exists
//
// The node store isolates the **mutable state of one run** (what each node
// produced) from the **immutable workflow definition** (nodes and edges).
// The graph scheduler only reads from it to resolve a node's input; the
// executor is its only writer.
//
// # Lifecycle and Usage
//
// The node store is:
//  1. **Created** once per execution (ephemeral, never shared between runs)
//  2. **Written** by the executor exactly once per node, in schedule order
//  3. **Queried** by the scheduler to merge predecessor outputs into inputs
//  4. **Snapshotted** by the lifecycle manager to persist partial progress
//  5. **Discarded** when the run reaches a terminal state
//
// # Final Output
//
// The run's final output is the output of the node of type "output" that
// executed. When several output nodes exist, the last one written wins; when
// none exists, the final output is empty.
package nodestore

import (
	"context"
	"errors"

	"github.com/vk/flowgridgo/internal/model"
)

// ErrAlreadyRecorded is returned when a node's output is written twice.
var ErrAlreadyRecorded = errors.New("node output already recorded")

// Reader is the read side of the store, used by input resolution.
type Reader interface {
	// GetOutput retrieves the recorded output of a node. The boolean is false
	// if the node has not produced output yet.
	GetOutput(ctx context.Context, nodeID string) (map[string]any, bool, error)
}

// Store is the interface for the per-execution output context.
//
// # Thread-Safety Requirements
//
// Implementations MUST be safe for concurrent use: the executor writes while
// transport handlers read snapshots of a run in progress.
type Store interface {
	Reader

	// SetOutput records a node's output. Each node is written at most once;
	// a second write returns ErrAlreadyRecorded. Writing the output of a node
	// of type output also replaces the final output.
	SetOutput(ctx context.Context, nodeID string, nodeType model.NodeType, output map[string]any) error

	// Snapshot returns a copy of every recorded output keyed by node id.
	Snapshot(ctx context.Context) (map[string]map[string]any, error)

	// FinalOutput returns the output of the last executed output node, or an
	// empty map if no output node has executed.
	FinalOutput(ctx context.Context) (map[string]any, error)
}
