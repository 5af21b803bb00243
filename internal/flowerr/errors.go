// Package flowerr defines the error taxonomy shared by the scheduler, the node
// implementations and the lifecycle manager.
//
// Every category has a sentinel so callers can match with errors.Is. Categories
// that carry details have a typed error whose Unwrap returns the sentinel.
package flowerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownNodeType  = errors.New("unknown node type")
	ErrGraphReference   = errors.New("invalid graph reference")
	ErrTemplate         = errors.New("template error")
	ErrEvaluation       = errors.New("evaluation error")
	ErrTransport        = errors.New("transport error")
	ErrProvider         = errors.New("provider error")
	ErrUnknownTransform = errors.New("unknown transform")
	ErrRunNotFound      = errors.New("execution not found")
	ErrCancelled        = errors.New("execution cancelled")
	ErrQueueFull        = errors.New("execution queue full")
)

// UnknownNodeTypeError is returned when a node's type tag has no registered factory.
type UnknownNodeTypeError struct {
	Type  string
	Valid []string
}

func (e *UnknownNodeTypeError) Error() string {
	valid := append([]string(nil), e.Valid...)
	sort.Strings(valid)
	return fmt.Sprintf("unknown node type '%s' (valid types: %s)", e.Type, strings.Join(valid, ", "))
}

func (e *UnknownNodeTypeError) Unwrap() error { return ErrUnknownNodeType }

// Graph reference error kinds.
const (
	KindEmptyID       = "empty_id"
	KindDuplicateNode = "duplicate_node"
	KindMissingNode   = "missing_node"
	KindSelfReference = "self_reference"
	KindCycle         = "cycle"
)

// GraphReferenceError reports a structural problem with a workflow graph.
// Nodes lists the offending node ids.
type GraphReferenceError struct {
	Kind  string
	Nodes []string
	Msg   string
}

func (e *GraphReferenceError) Error() string {
	if len(e.Nodes) == 0 {
		return fmt.Sprintf("invalid graph (%s): %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("invalid graph (%s): %s [%s]", e.Kind, e.Msg, strings.Join(e.Nodes, ", "))
}

func (e *GraphReferenceError) Unwrap() error { return ErrGraphReference }

// TemplateError is returned when a template references a key that is absent
// from the input mapping.
type TemplateError struct {
	Key string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template references missing key '%s'", e.Key)
}

func (e *TemplateError) Unwrap() error { return ErrTemplate }

// EvaluationError wraps a failure raised while evaluating user code or a
// condition expression.
type EvaluationError struct {
	Msg string
}

func (e *EvaluationError) Error() string { return "evaluation failed: " + e.Msg }

func (e *EvaluationError) Unwrap() error { return ErrEvaluation }

// UnknownTransformError names a transform strategy outside the supported set.
type UnknownTransformError struct {
	Strategy string
	Valid    []string
}

func (e *UnknownTransformError) Error() string {
	return fmt.Sprintf("unknown transform '%s' (valid: %s)", e.Strategy, strings.Join(e.Valid, ", "))
}

func (e *UnknownTransformError) Unwrap() error { return ErrUnknownTransform }

// softError marks a node failure that is captured in the node's output
// instead of aborting the run.
type softError struct {
	err error
}

func (e *softError) Error() string { return e.err.Error() }

func (e *softError) Unwrap() error { return e.err }

// Soft marks err as a soft failure. A nil err stays nil.
func Soft(err error) error {
	if err == nil {
		return nil
	}
	return &softError{err: err}
}

// IsSoft reports whether err, or anything it wraps, was marked with Soft.
func IsSoft(err error) bool {
	var s *softError
	return errors.As(err, &s)
}
