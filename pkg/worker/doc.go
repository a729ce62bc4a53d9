// Package worker polls the registry for runnable jobs and executes them on
// a bounded goroutine pool.
//
// The pool size caps simultaneous job execution to control aggregate
// memory. Background maintenance (stale-lease sweeps, periodic memory
// sampling) runs on configurable schedules.
package worker
