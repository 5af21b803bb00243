// Package code provides the code node, which evaluates a user-supplied HCL
// attribute program in the sandbox.
package code

import (
	"context"
	"errors"
	"time"

	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/sandbox"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 5 * time.Second

// Params are the params of a code node.
type Params struct {
	Code    string `param:"code"`
	MaxSize int    `param:"max_size"`
}

// Module implements the registry.Module interface for this package.
// MaxSize is the engine-wide bound on program size; a node may only lower it.
// Limits bound each evaluation; zero fields take the sandbox defaults.
type Module struct {
	MaxSize int
	Limits  sandbox.Limits
}

// Register registers the code node type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(model.NodeCode, &registry.RegisteredNode{New: m.newNode, Timeout: DefaultTimeout})
}

func (m *Module) newNode(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}

	limit := m.MaxSize
	if limit <= 0 {
		limit = sandbox.DefaultMaxProgramSize
	}
	if p.MaxSize > 0 && p.MaxSize < limit {
		limit = p.MaxSize
	}

	prog, err := sandbox.Compile(p.Code, limit)
	if errors.Is(err, sandbox.ErrProgramTooLarge) {
		return nil, err
	}
	if err != nil {
		// A program that does not parse fails like any other evaluation.
		compileErr := flowerr.Soft(err)
		return registry.NodeFunc(func(context.Context, map[string]any) (map[string]any, error) {
			return nil, compileErr
		}), nil
	}

	prog = prog.WithLimits(m.Limits)

	return registry.NodeFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		out, err := prog.Run(ctx, input)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		if err != nil {
			return nil, flowerr.Soft(err)
		}
		return map[string]any{"output": out, "success": true}, nil
	}), nil
}
