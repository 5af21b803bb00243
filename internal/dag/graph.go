package dag

import (
	"fmt"
	"sync"
)

// Graph is a collection of nodes and their dependencies. Node and edge
// insertion order is preserved, which keeps ordering and input merging
// deterministic. All operations on the graph are concurrency-safe.
type Graph struct {
	// mutex protects the nodes map and the order slice.
	mutex sync.RWMutex
	// nodes stores all nodes in the graph, keyed by their unique ID.
	nodes map[string]*node
	// order lists node IDs in insertion order.
	order []string
}

// node is a single vertex. Un-exported so callers go through the Graph API.
type node struct {
	id string
	// deps holds predecessor IDs, one entry per incoming edge, in edge order.
	deps []string
	// dependents holds successor IDs, one entry per outgoing edge, in edge order.
	dependents []string
}

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// AddNode adds a new node with the given ID to the graph. It reports false,
// and changes nothing, if a node with the same ID already exists.
func (g *Graph) AddNode(id string) bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return false
	}

	g.nodes[id] = &node{id: id}
	g.order = append(g.order, id)
	return true
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps = append(toNode.deps, fromID)
	fromNode.dependents = append(fromNode.dependents, toID)

	return nil
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs the given node depends on, one per incoming
// edge, in edge order.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return append([]string(nil), n.deps...), nil
}

// Dependents returns the IDs that depend on the given node, in edge order.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return append([]string(nil), n.dependents...), nil
}

// TopologicalOrder runs a stable Kahn sort. The queue is seeded with the
// zero in-degree nodes in insertion order and successors are released in
// edge order. Nodes on a cycle, or downstream of one, never reach zero
// in-degree and are left out of the result.
func (g *Graph) TopologicalOrder() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	inDegree := make(map[string]int, len(g.nodes))
	for _, id := range g.order {
		inDegree[id] = len(g.nodes[id].deps)
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range g.nodes[id].dependents {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order
}

// Unordered returns, in insertion order, the nodes missing from order.
func (g *Graph) Unordered(order []string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	seen := make(map[string]bool, len(order))
	for _, id := range order {
		seen[id] = true
	}
	var missing []string
	for _, id := range g.order {
		if !seen[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
