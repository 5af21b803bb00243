// Package engine is the execution lifecycle layer of the application. It
// accepts run requests, keeps a bounded queue of pending executions, and
// drives them to completion on a fixed pool of workers.
//
// Every state change of an execution record is persisted through a
// repository.ExecutionStore and announced through a progress.Broadcaster:
//
//	Run      -> pending  (record created, job queued)
//	worker   -> running  (event: start)
//	per node -> running  (event: node_completed, partial node_outputs saved)
//	finish   -> completed (event: completed) or failed (event: failed)
//
// A run is decoupled from the request that triggered it. Cancel, Shutdown,
// or cancellation of the context given to Start stop it instead.
package engine
