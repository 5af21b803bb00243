// Package dag is the scheduling layer of the engine. It turns a workflow's
// nodes and edges into a Graph, computes a deterministic execution order
// with a stable Kahn topological sort, validates structural integrity, and
// resolves each node's runtime input from its predecessors' outputs.
//
// Two ordering entry points exist. Order silently omits every node that
// participates in a cycle or is reachable only through one. ValidateAndOrder
// returns the same order together with a *flowerr.GraphReferenceError
// describing anything wrong with the graph, and is what the engine uses.
package dag
