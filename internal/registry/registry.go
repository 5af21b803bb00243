package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
)

// DefaultTimeout applies to node types registered without their own timeout.
const DefaultTimeout = 10 * time.Second

// Node is the executable form of a workflow node. Execute receives the
// node's resolved input and returns its result mapping; results carry a
// `success` flag by convention.
type Node interface {
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
}

// NodeFunc adapts an ordinary function to the Node interface.
type NodeFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// Execute calls f(ctx, input).
func (f NodeFunc) Execute(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}

// Factory builds a Node from its definition. Parameter problems are reported
// here, before the run starts executing anything.
type Factory func(n model.Node) (Node, error)

// RegisteredNode holds the Go side of a node type.
type RegisteredNode struct {
	New     Factory
	Timeout time.Duration
}

// Module is the interface that all node modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the factories for a single application instance.
type Registry struct {
	nodes map[model.NodeType]*RegisteredNode
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{nodes: make(map[model.NodeType]*RegisteredNode)}
}

// RegisterNode registers the factory for a node type. Registering a type
// twice, or a type outside the closed set, is a programming error and panics.
func (r *Registry) RegisterNode(t model.NodeType, n *RegisteredNode) {
	if !t.Valid() {
		panic(fmt.Sprintf("node type '%s' is not a member of the node type set", t))
	}
	if n == nil || n.New == nil {
		panic(fmt.Sprintf("node type '%s' registered without a factory", t))
	}
	if _, exists := r.nodes[t]; exists {
		panic(fmt.Sprintf("node type '%s' already registered", t))
	}
	slog.Debug("Registering node type.", "type", t)
	r.nodes[t] = n
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.nodes))
	for t := range r.nodes {
		out = append(out, string(t))
	}
	sort.Strings(out)
	return out
}

// Build instantiates n through its type's factory.
func (r *Registry) Build(n model.Node) (Node, error) {
	reg, ok := r.nodes[n.Type]
	if !ok {
		return nil, &flowerr.UnknownNodeTypeError{Type: string(n.Type), Valid: r.Types()}
	}
	node, err := reg.New(n)
	if err != nil {
		return nil, fmt.Errorf("node '%s' (%s): %w", n.ID, n.Type, err)
	}
	return node, nil
}

// Timeout resolves the execution timeout for n: its own `timeout` param if
// set, otherwise the default of its type.
func (r *Registry) Timeout(n model.Node) (time.Duration, error) {
	if raw, ok := n.Params["timeout"]; ok && raw != nil {
		d, err := ParseTimeout(raw)
		if err != nil {
			return 0, fmt.Errorf("node '%s': invalid timeout: %w", n.ID, err)
		}
		if d > 0 {
			return d, nil
		}
	}
	if reg, ok := r.nodes[n.Type]; ok && reg.Timeout > 0 {
		return reg.Timeout, nil
	}
	return DefaultTimeout, nil
}

// Validate checks that every member of the closed node type set has a
// registered factory.
func (r *Registry) Validate(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	var missing []string
	for _, t := range model.NodeTypes() {
		if _, ok := r.nodes[t]; !ok {
			missing = append(missing, string(t))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("registry validation failed: no implementation for node types: %s", strings.Join(missing, ", "))
	}
	logger.Debug("Registry validation passed.", "types", len(r.nodes))
	return nil
}
