// Package pool provides bounded pools of reusable heavy components.
//
// A Pool amortizes construction cost for collaborators shared across many
// short stage invocations from concurrent jobs. Acquire blocks when max_size
// instances are in use; that blocking is the engine's sole back-pressure
// mechanism for bounding concurrent heavy-resource usage.
package pool
