package worker

import (
	"time"

	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/schedule"
)

// maxConcurrency caps the job pool size; one job can hold several heavy
// components, so this stays deliberately low by default.
const maxConcurrency = 256

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	// Concurrency is the maximum number of jobs in flight. Default: 4.
	Concurrency int

	// PollInterval is how often the registry is polled for runnable jobs.
	// Default: 500ms.
	PollInterval time.Duration

	// WorkerID identifies this worker on job leases.
	WorkerID string

	// StaleAfter is how long past lease expiry a job counts as abandoned.
	// Default: 10 minutes.
	StaleAfter time.Duration

	// HeartbeatInterval is how often the lease on an executing job is
	// renewed. Must stay well under the lease duration. Default: 1 minute.
	HeartbeatInterval time.Duration

	// SweepSchedule drives stale-lease reclamation. Default: every minute.
	SweepSchedule schedule.Schedule

	// SampleSchedule drives background memory snapshots. Default: every
	// 30 seconds.
	SampleSchedule schedule.Schedule

	// StorageRetry configures retries for registry operations.
	StorageRetry *RetryConfig

	// Tracker, when set, receives background memory snapshots.
	Tracker *memtrack.Tracker
}

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// Concurrency sets the maximum number of jobs in flight.
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if n < 1 {
			n = 1
		}
		if n > maxConcurrency {
			n = maxConcurrency
		}
		c.Concurrency = n
	})
}

// PollInterval sets the registry poll interval.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WorkerID overrides the generated worker identity.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if id != "" {
			c.WorkerID = id
		}
	})
}

// StaleAfter sets the lease-abandonment cutoff.
func StaleAfter(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.StaleAfter = d
		}
	})
}

// HeartbeatInterval sets how often an executing job's lease is renewed.
func HeartbeatInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.HeartbeatInterval = d
		}
	})
}

// SweepSchedule sets the stale-lease sweep schedule.
func SweepSchedule(s schedule.Schedule) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if s != nil {
			c.SweepSchedule = s
		}
	})
}

// SampleSchedule sets the background memory sampling schedule.
func SampleSchedule(s schedule.Schedule) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if s != nil {
			c.SampleSchedule = s
		}
	})
}

// StorageRetry overrides the storage retry configuration.
func StorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithTracker attaches a memory tracker for background sampling.
func WithTracker(tr *memtrack.Tracker) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Tracker = tr
	})
}
