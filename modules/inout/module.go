// Package inout provides the input and output nodes that mark a workflow's
// entry and exit.
package inout

import (
	"context"

	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
)

// DefaultResultKey wraps the output node's input when no result_key is set.
const DefaultResultKey = "result"

// Module implements the registry.Module interface for this package.
type Module struct{}

// OutputParams are the params of an output node.
type OutputParams struct {
	ResultKey string `param:"result_key"`
}

func newInput(model.Node) (registry.Node, error) {
	return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}), nil
}

func newOutput(n model.Node) (registry.Node, error) {
	var p OutputParams
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	if p.ResultKey == "" {
		p.ResultKey = DefaultResultKey
	}
	return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{p.ResultKey: input}, nil
	}), nil
}

// Register registers the input and output node types.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(model.NodeInput, &registry.RegisteredNode{New: newInput})
	r.RegisterNode(model.NodeOutput, &registry.RegisteredNode{New: newOutput})
}
