// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines the execution record and its status state machine.
//
// # State Transitions
//
// An execution moves through the following states, never backwards:
//
//	pending -> running -> completed
//	pending -> running -> failed
//	pending -> failed            (cancelled or rejected before dispatch)
//
// Entering running records StartedAt. Entering either terminal state records
// CompletedAt, including on failure, so a run's duration is always computable.
package model

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of an Execution.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed
	case StatusRunning:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// Execution is one run of a workflow against an input payload.
type Execution struct {
	ID          string                    `json:"id"`
	WorkflowID  string                    `json:"workflow_id"`
	Status      Status                    `json:"status"`
	Input       map[string]any            `json:"input"`
	Output      map[string]any            `json:"output"`
	NodeOutputs map[string]map[string]any `json:"node_outputs"`
	Error       string                    `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   *time.Time                `json:"started_at,omitempty"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}

// NewExecution returns a pending execution record.
func NewExecution(id, workflowID string, input map[string]any, now time.Time) *Execution {
	if input == nil {
		input = map[string]any{}
	}
	return &Execution{
		ID:          id,
		WorkflowID:  workflowID,
		Status:      StatusPending,
		Input:       input,
		Output:      map[string]any{},
		NodeOutputs: map[string]map[string]any{},
		CreatedAt:   now,
	}
}

// Transition moves the execution to next, stamping the relevant timestamps.
func (e *Execution) Transition(next Status, now time.Time) error {
	if !e.Status.CanTransition(next) {
		return fmt.Errorf("invalid status transition for execution %s: %s -> %s", e.ID, e.Status, next)
	}
	e.Status = next
	switch {
	case next == StatusRunning:
		e.StartedAt = &now
	case next.Terminal():
		e.CompletedAt = &now
	}
	return nil
}

// Duration returns the wall time between start and completion, or zero if
// the execution has not finished or never started.
func (e *Execution) Duration() time.Duration {
	if e.StartedAt == nil || e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(*e.StartedAt)
}

// Clone returns a deep copy of the execution record.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Input = CloneMap(e.Input)
	out.Output = CloneMap(e.Output)
	if e.NodeOutputs != nil {
		out.NodeOutputs = make(map[string]map[string]any, len(e.NodeOutputs))
		for k, v := range e.NodeOutputs {
			out.NodeOutputs[k] = CloneMap(v)
		}
	}
	if e.StartedAt != nil {
		t := *e.StartedAt
		out.StartedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
