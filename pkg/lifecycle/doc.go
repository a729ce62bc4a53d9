// Package lifecycle manages on-demand construction and teardown of heavy,
// non-shared components.
//
// Unlike pooled components, lifecycle-managed ones are built when the stage
// that needs them runs and released promptly afterwards, keeping peak memory
// bounded to the stages actually in flight.
package lifecycle
