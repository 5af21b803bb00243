// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the closed set of node types.
package model

// NodeType is the type tag of a Node. The set of valid tags is closed and
// known at compile time.
type NodeType string

const (
	NodeLLM       NodeType = "llm"
	NodeCode      NodeType = "code"
	NodeHTTP      NodeType = "http"
	NodeCondition NodeType = "condition"
	NodeRetrieval NodeType = "retrieval"
	NodeTransform NodeType = "transform"
	NodeLoop      NodeType = "loop"
	NodeSearch    NodeType = "search"
	NodeInput     NodeType = "input"
	NodeOutput    NodeType = "output"
)

// NodeTypes returns every valid node type in declaration order.
func NodeTypes() []NodeType {
	return []NodeType{
		NodeLLM, NodeCode, NodeHTTP, NodeCondition, NodeRetrieval,
		NodeTransform, NodeLoop, NodeSearch, NodeInput, NodeOutput,
	}
}

// Valid reports whether t is a member of the closed set.
func (t NodeType) Valid() bool {
	for _, known := range NodeTypes() {
		if t == known {
			return true
		}
	}
	return false
}

func (t NodeType) String() string { return string(t) }
