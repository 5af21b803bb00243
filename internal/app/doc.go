// Package app wires the service together. It owns the logger, the node
// registry and the storage backends, and runs one of three modes: serve the
// HTTP API, run a workflow file once, or watch a remote execution.
package app
