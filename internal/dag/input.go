package dag

import (
	"context"
	"fmt"

	"github.com/vk/flowgridgo/internal/nodestore"
)

// ResolveInput computes the runtime input of a node.
//
// A node without incoming edges receives initial itself, unchanged. Any
// other node receives a new map holding the union of its predecessors'
// recorded outputs, merged in edge order with later edges overwriting
// earlier keys. Predecessors that have not recorded output contribute
// nothing.
func ResolveInput(ctx context.Context, g *Graph, nodeID string, outputs nodestore.Reader, initial map[string]any) (map[string]any, error) {
	deps, err := g.Dependencies(nodeID)
	if err != nil {
		return nil, err
	}
	if len(deps) == 0 {
		return initial, nil
	}

	merged := make(map[string]any)
	for _, dep := range deps {
		out, ok, err := outputs.GetOutput(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("failed to read output of '%s': %w", dep, err)
		}
		if !ok {
			continue
		}
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged, nil
}
