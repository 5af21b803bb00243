// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package model provides the Go representation of workflows and their
// executions. Everything else in the engine speaks in these types: the
// scheduler orders a Workflow's nodes, the registry turns a Node into
// something executable, and the lifecycle manager drives an Execution
// through its state machine.
//
// # Core Concepts
//
//   - Workflow: a named graph of Nodes connected by Edges, plus a free-form
//     variables mapping. A Workflow owns its Nodes and Edges.
//
//   - Node: one typed unit of work. Its Type is drawn from a closed set
//     (see NodeType) and its Params are interpreted per type.
//
//   - Edge: a directed data dependency. The target node's input is derived
//     from the source node's recorded output.
//
//   - Execution: one run of a Workflow against an input payload. It refers to
//     its Workflow by id only, so it survives edits and deletion of the
//     definition as a historical record.
//
// All types marshal to JSON with snake_case keys; this is the shape used by
// the HTTP API, the MCP tools, the CLI and the Postgres JSONB columns.
package model
