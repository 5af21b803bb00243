// Package registry provides the central "glue" between workflow definitions
// and executable node implementations.
//
// The Registry maps each type tag of the closed model.NodeType set to a
// factory that turns a model.Node (its params in particular) into a Node
// ready to execute. Node packages under modules/ implement Module and
// register themselves during application startup; the registry is then
// validated so that every type tag a workflow may use has an implementation,
// preventing a class of "unknown type" failures at run time.
package registry
