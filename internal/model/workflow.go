// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the workflow definition: nodes, edges and variables.
package model

import "time"

// Workflow is a versionless workflow definition.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	Variables   map[string]any `json:"variables,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Node is a single typed step in a workflow graph.
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Label    string         `json:"label,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Position Position       `json:"position"`
}

// Position is the node's canvas location. It carries no semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Edge connects Source to Target. The handles are reserved for multi-port
// nodes and are not interpreted by the engine.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// Node returns the node with the given id.
func (w *Workflow) Node(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		n.Params = CloneMap(n.Params)
		out.Nodes[i] = n
	}
	out.Edges = append([]Edge(nil), w.Edges...)
	out.Variables = CloneMap(w.Variables)
	return &out
}

// CloneMap deep-copies a JSON-shaped map. Nested maps and slices are copied;
// every other value is copied as is.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CloneMap(e)
		}
		return out
	default:
		return v
	}
}
