// Package loop provides the loop node. It checks that a field of its input
// is a sequence and reports its items and length; it does not re-enter the
// graph for each item.
package loop

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
	"github.com/vk/flowgridgo/internal/registry"
	"github.com/vk/flowgridgo/internal/tmpl"
)

// DefaultField is read when no field param is set.
const DefaultField = "items"

// Params are the params of a loop node.
type Params struct {
	Field string `param:"field"`
}

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the loop node type.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(model.NodeLoop, &registry.RegisteredNode{New: New})
}

// New builds a loop node.
func New(n model.Node) (registry.Node, error) {
	var p Params
	if err := registry.DecodeParams(n.Params, &p); err != nil {
		return nil, err
	}
	if p.Field == "" {
		p.Field = DefaultField
	}

	return registry.NodeFunc(func(_ context.Context, input map[string]any) (map[string]any, error) {
		raw, ok := tmpl.Lookup(input, p.Field)
		if !ok {
			return nil, flowerr.Soft(fmt.Errorf("field '%s' not found in input", p.Field))
		}
		items, ok := asSlice(raw)
		if !ok {
			return nil, flowerr.Soft(fmt.Errorf("field '%s' is not a sequence (got %T)", p.Field, raw))
		}
		return map[string]any{"items": items, "count": len(items), "success": true}, nil
	}), nil
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}
