// Package schedule defines when recurring maintenance work runs next.
//
// Schedules drive the worker's background passes: stale-lease sweeps and
// periodic memory sampling.
package schedule
