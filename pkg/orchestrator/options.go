package orchestrator

import (
	"log/slog"
	"time"

	"github.com/jdziat/doc-pipeline/pkg/lifecycle"
	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/pool"
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLifecycleManager replaces the default component lifecycle manager.
func WithLifecycleManager(m *lifecycle.Manager) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.lifecycle = m
		}
	}
}

// WithPools replaces the default (empty) pool set.
func WithPools(s *pool.Set) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.pools = s
		}
	}
}

// WithMemoryTracker brackets stages and component loads with memory samples.
func WithMemoryTracker(t *memtrack.Tracker) Option {
	return func(o *Orchestrator) {
		o.tracker = t
	}
}

// WithStageTimeout bounds each stage executor call. A timeout surfaces as a
// transient failure, leaving the job interrupted and resumable.
func WithStageTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.stageTimeout = d
	}
}

// WithAcquireWait bounds how long a stage waits on a pooled component before
// surfacing a transient acquire timeout. Zero means wait indefinitely.
func WithAcquireWait(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.acquireWait = d
	}
}
