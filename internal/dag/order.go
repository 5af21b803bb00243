package dag

import (
	"fmt"

	"github.com/vk/flowgridgo/internal/flowerr"
	"github.com/vk/flowgridgo/internal/model"
)

// Build converts a workflow into a Graph. Structural problems do not stop the
// build: the offending node or edge is skipped and reported in the returned
// error, so callers may still use the partial graph.
func Build(wf *model.Workflow) (*Graph, error) {
	g := New()
	var firstErr error
	report := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	var duplicates []string
	for _, n := range wf.Nodes {
		if n.ID == "" {
			report(&flowerr.GraphReferenceError{Kind: flowerr.KindEmptyID, Msg: "node id must not be empty"})
			continue
		}
		if !g.AddNode(n.ID) {
			duplicates = append(duplicates, n.ID)
		}
	}
	if len(duplicates) > 0 {
		report(&flowerr.GraphReferenceError{Kind: flowerr.KindDuplicateNode, Nodes: duplicates, Msg: "node ids must be unique"})
	}

	var missing, selfRefs []string
	for _, e := range wf.Edges {
		if e.Source == e.Target {
			selfRefs = append(selfRefs, e.Source)
			continue
		}
		if err := g.AddEdge(e.Source, e.Target); err != nil {
			missing = append(missing, fmt.Sprintf("%s -> %s", e.Source, e.Target))
		}
	}
	if len(missing) > 0 {
		report(&flowerr.GraphReferenceError{Kind: flowerr.KindMissingNode, Nodes: missing, Msg: "edges reference nodes that do not exist"})
	}
	if len(selfRefs) > 0 {
		report(&flowerr.GraphReferenceError{Kind: flowerr.KindSelfReference, Nodes: selfRefs, Msg: "self-referential edges are not allowed"})
	}
	return g, firstErr
}

// Order returns the stable topological order of the workflow's nodes.
// Invalid edges are ignored and nodes on or behind a cycle are silently
// omitted. Use ValidateAndOrder when omission must be reported.
func Order(wf *model.Workflow) []string {
	g, _ := Build(wf)
	return g.TopologicalOrder()
}

// ValidateAndOrder returns the same order as Order together with a
// *flowerr.GraphReferenceError if the workflow has empty or duplicate node
// ids, edges to unknown nodes, self-referential edges, or cycles. For a
// cycle, the error names every node left out of the order.
func ValidateAndOrder(wf *model.Workflow) ([]string, error) {
	_, order, err := Plan(wf)
	return order, err
}

// Plan is ValidateAndOrder that also hands back the built graph, for callers
// that go on to resolve node inputs.
func Plan(wf *model.Workflow) (*Graph, []string, error) {
	g, err := Build(wf)
	order := g.TopologicalOrder()
	if err != nil {
		return g, order, err
	}
	if omitted := g.Unordered(order); len(omitted) > 0 {
		return g, order, &flowerr.GraphReferenceError{
			Kind:  flowerr.KindCycle,
			Nodes: omitted,
			Msg:   "nodes are part of, or depend on, a cycle",
		}
	}
	return g, order, nil
}
