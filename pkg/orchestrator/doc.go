// Package orchestrator drives jobs through their stage lists.
//
// For each remaining stage the orchestrator acquires required components,
// brackets the stage with memory samples, invokes the stage executor, and on
// success persists a checkpoint before advancing. Resume re-hydrates prior
// stage outputs from checkpoint metadata and continues after the last
// durably completed stage; completed stages are never re-invoked.
package orchestrator
