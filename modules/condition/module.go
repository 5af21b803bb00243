// Package condition provides the condition node, a boolean branch point.
package condition

import (
	"context"
	"strconv"

	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/sandbox"
)

// Params are the params of a condition node.
type Params struct {
	Condition string `param:"condition"`
}

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the condition node type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(model.NodeCondition, &registry.RegisteredNode{New: New})
}

// New builds a condition node. A malformed expression fails here; an
// expression that fails against the input fails the run.
func New(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	cond, err := sandbox.CompileCondition(p.Condition)
	if err != nil {
		return nil, err
	}

	return registry.NodeFunc(func(ctx context.Context, input map[string]any) (map[string]any, error) {
		ok, err := cond.Evaluate(ctx, input)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"result":  ok,
			"branch":  strconv.FormatBool(ok),
			"success": true,
		}, nil
	}), nil
}
