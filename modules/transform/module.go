// Package transform provides the transform node: pure, deterministic
// reshaping of a node's input with no I/O.
package transform

import (
	"context"
	"fmt"

	"github.com/spf13/cast"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/tmpl"
)

// Strategies.
const (
	Passthrough = "passthrough"
	Extract     = "extract"
	Merge       = "merge"
	Template    = "template"
	Map         = "map"
	Filter      = "filter"
)

// Strategies returns the supported strategies.
func Strategies() []string {
	return []string{Passthrough, Extract, Merge, Template, Map, Filter}
}

// Params are the params of a transform node.
type Params struct {
	TransformType string         `param:"transform_type"`
	Key           string         `param:"key"`
	Mapping       map[string]any `param:"mapping"`
	Template      string         `param:"template"`
	Keys          []string       `param:"keys"`
}

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the transform node type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(model.NodeTransform, &registry.RegisteredNode{New: New})
}

// New builds a transform node. An unknown strategy, or a strategy missing
// its required param, is rejected here.
func New(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}

	switch p.TransformType {
	case "", Passthrough:
		return registry.NodeFunc(passthrough), nil
	case Extract:
		if p.Key == "" {
			return nil, fmt.Errorf("transform '%s' requires 'key'", Extract)
		}
		return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
			v, _ := tmpl.Lookup(input, p.Key)
			return map[string]any{"output": v, "success": true}, nil
		}), nil
	case Merge:
		return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
			return merge(input, p.Mapping)
		}), nil
	case Template:
		return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
			s, err := tmpl.Format(p.Template, input)
			if err != nil {
				return nil, err
			}
			return map[string]any{"output": s, "success": true}, nil
		}), nil
	case Map:
		renames := make(map[string]string, len(p.Mapping))
		for from, to := range p.Mapping {
			name, err := cast.ToStringE(to)
			if err != nil {
				return nil, fmt.Errorf("transform '%s': target for '%s' is not a string: %w", Map, from, err)
			}
			renames[from] = name
		}
		return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
			return rename(input, renames), nil
		}), nil
	case Filter:
		keys := p.Keys
		return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
			return filter(input, keys), nil
		}), nil
	default:
		return nil, &flowerr.UnknownTransformError{Strategy: p.TransformType, Valid: Strategies()}
	}
}

func passthrough(_ context.Context, input map[string]any) (map[string]any, error) {
	return input, nil
}

func merge(input, mapping map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(input)+len(mapping))
	for k, v := range input {
		out[k] = v
	}
	for k, v := range mapping {
		formatted, err := tmpl.FormatValue(v, input)
		if err != nil {
			return nil, err
		}
		out[k] = formatted
	}
	return out, nil
}

func rename(input map[string]any, renames map[string]string) map[string]any {
	out := make(map[string]any, len(input))
	// Unmapped keys first so a renamed key wins a collision.
	for k, v := range input {
		if _, ok := renames[k]; !ok {
			out[k] = v
		}
	}
	for k, v := range input {
		if to, ok := renames[k]; ok {
			out[to] = v
		}
	}
	return out
}

func filter(input map[string]any, keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := input[k]; ok {
			out[k] = v
		}
	}
	return out
}
