// Package sandbox evaluates user-supplied programs and expressions for the
// Code and Condition nodes.
//
// Programs are written in HCL native syntax and evaluated with cty. The
// language has no statements, no I/O and no unbounded loops, and the only
// functions in scope are the allowlists in functions.go, so a program can
// compute over its input and nothing else.
//
// A Code program is a set of attributes:
//
//	doubled = input_data["n"] * 2
//	output  = doubled + 1
//
// Attributes may reference each other and are evaluated in dependency order.
// The program's result is the `output` attribute, or every attribute when
// `output` is not defined.
//
// Evaluation is bounded by Limits. Each run works on a fresh parse whose
// loop bodies, function calls and interpolations are metered, so a program
// that outgrows its budget or outlives its context stops promptly.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/zclconf/go-cty/cty"
)

const (
	// InputVariable is the name the input mapping is bound to in programs.
	InputVariable = "input_data"
	// OutputAttribute is the designated result attribute of a program.
	OutputAttribute = "output"
	// DefaultMaxProgramSize bounds program source when no limit is configured.
	DefaultMaxProgramSize = 64 * 1024
)

// ErrProgramTooLarge is returned by Compile when the source exceeds the limit.
var ErrProgramTooLarge = errors.New("program exceeds size limit")

// Program is a compiled Code program.
type Program struct {
	src    string
	order  []string
	limits Limits
}

// Compile parses src. Size violations and syntax errors are reported here,
// before any input is seen.
func Compile(src string, maxSize int) (*Program, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxProgramSize
	}
	if len(src) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes > %d", ErrProgramTooLarge, len(src), maxSize)
	}

	body, err := parseProgram(src)
	if err != nil {
		return nil, err
	}
	if len(body.Blocks) > 0 {
		b := body.Blocks[0]
		return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("%s: blocks are not allowed in programs", b.TypeRange)}
	}
	if _, ok := body.Attributes[InputVariable]; ok {
		return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("'%s' is reserved", InputVariable)}
	}
	if depth := maxForDepth(body); depth > MaxForDepth {
		return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("for expressions nest %d deep, at most %d allowed", depth, MaxForDepth)}
	}

	order, err := attributeOrder(body.Attributes)
	if err != nil {
		return nil, err
	}
	return &Program{src: src, order: order, limits: DefaultLimits}, nil
}

// WithLimits returns a copy of p that evaluates under l. Zero fields keep
// their defaults.
func (p *Program) WithLimits(l Limits) *Program {
	cp := *p
	cp.limits = l.withDefaults()
	return &cp
}

func parseProgram(src string) (*hclsyntax.Body, error) {
	file, diags := hclsyntax.ParseConfig([]byte(src), "code.hcl", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, &flowerr.EvaluationError{Msg: diags.Error()}
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, &flowerr.EvaluationError{Msg: "unexpected program body"}
	}
	return body, nil
}

// attributeOrder sorts attributes so each one follows everything it
// references. Ties are broken by name so evaluation is deterministic.
func attributeOrder(attrs hclsyntax.Attributes) ([]string, error) {
	deps := make(map[string]map[string]bool, len(attrs))
	for name, attr := range attrs {
		deps[name] = make(map[string]bool)
		for _, traversal := range attr.Expr.Variables() {
			root := traversal.RootName()
			if root == name {
				return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("attribute '%s' references itself", name)}
			}
			if _, ok := attrs[root]; ok {
				deps[name][root] = true
			}
		}
	}

	var order []string
	done := make(map[string]bool, len(attrs))
	for len(order) < len(attrs) {
		var ready []string
		for name, d := range deps {
			if done[name] {
				continue
			}
			satisfied := true
			for dep := range d {
				if !done[dep] {
					satisfied = false
					break
				}
			}
			if satisfied {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			var stuck []string
			for name := range deps {
				if !done[name] {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("attributes reference each other in a cycle: %v", stuck)}
		}
		sort.Strings(ready)
		for _, name := range ready {
			done[name] = true
			order = append(order, name)
		}
	}
	return order, nil
}

// Run evaluates the program against input. A cancelled or expired context
// stops evaluation with the context's error; a program that outgrows its
// limits fails with ErrBudgetExceeded.
func (p *Program) Run(ctx context.Context, input map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputVal, err := ToValue(input)
	if err != nil {
		return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("input is not representable: %v", err)}
	}

	body, err := parseProgram(p.src)
	if err != nil {
		return nil, err
	}
	m := newMeter(ctx, p.limits)
	m.instrument(body)

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{InputVariable: inputVal},
		Functions: m.functions(codeFunctions()),
	}

	locals := make(map[string]any, len(p.order))
	for _, name := range p.order {
		if err := m.step(); err != nil {
			return nil, limitError(err)
		}
		val, diags := body.Attributes[name].Expr.Value(evalCtx)
		if m.err != nil {
			return nil, limitError(m.err)
		}
		if diags.HasErrors() {
			return nil, &flowerr.EvaluationError{Msg: diags.Error()}
		}
		if _, err := m.measure(val, m.limits.MaxProduced); err != nil {
			return nil, limitError(err)
		}
		evalCtx.Variables[name] = val

		goVal, err := FromValue(val)
		if err != nil {
			return nil, &flowerr.EvaluationError{Msg: fmt.Sprintf("attribute '%s': %v", name, err)}
		}
		locals[name] = goVal
	}

	if out, ok := locals[OutputAttribute]; ok {
		return out, nil
	}
	return locals, nil
}

// limitError keeps context errors as they are so callers can tell a
// deadline from a program fault.
func limitError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", flowerr.ErrEvaluation, err)
}
