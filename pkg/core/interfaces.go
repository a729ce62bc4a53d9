package core

import (
	"context"
	"time"
)

// Registry is the persistence contract for job bookkeeping. It replaces any
// process-global job map: callers receive a Registry handle explicitly and
// all mutations flow through it.
type Registry interface {
	// Migrate creates the necessary database tables.
	Migrate(ctx context.Context) error

	// Job lifecycle
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	ClaimJob(ctx context.Context, workerID string) (*Job, error)

	// RenewLease extends the lease on a job held by workerID so long-running
	// stages are not swept as stale mid-execution. Returns ErrJobNotOwned when
	// the job is no longer leased by that worker.
	RenewLease(ctx context.Context, jobID, workerID string) error

	MarkRunning(ctx context.Context, jobID string) error
	MarkInterrupted(ctx context.Context, jobID string, reason string) error
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error

	// AdvanceStage records that the stage at stageIndex checkpointed and the
	// job's next stage is stageIndex+1.
	AdvanceStage(ctx context.Context, jobID string, stageIndex int, stageName string) error

	// Queries
	JobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)

	// ReleaseStaleLeases frees jobs whose worker lease expired longer than
	// olderThan ago, returning them to their pre-claim status.
	ReleaseStaleLeases(ctx context.Context, olderThan time.Duration) (int64, error)

	// Memory metrics persisted for the admin per-job history view.
	SaveMemorySample(ctx context.Context, sample *MemorySample) error
	MemorySamples(ctx context.Context, jobID string, limit int) ([]MemorySample, error)
}

// CheckpointStore is the durable, ordered record of stage completion per job.
type CheckpointStore interface {
	// Save atomically records a checkpoint. Writes that would create a
	// backward or non-contiguous stage transition for the job are rejected
	// with ErrCheckpointOutOfOrder.
	Save(ctx context.Context, cp *Checkpoint) error

	// GetLatest returns the most recent checkpoint for the job, or nil.
	GetLatest(ctx context.Context, jobID string) (*Checkpoint, error)

	// List returns all checkpoints for the job in stage order.
	List(ctx context.Context, jobID string) ([]Checkpoint, error)

	// ListIncompleteJobs returns jobs without a terminal status, consumed by
	// the recovery service on startup.
	ListIncompleteJobs(ctx context.Context) ([]*Job, error)

	// Reset deletes all checkpoints for a job, for an explicit full restart.
	// Partial edits of checkpoint history are not supported.
	Reset(ctx context.Context, jobID string) error
}

// JobContext carries per-invocation state into a stage executor.
type JobContext struct {
	Job        *Job
	Stage      Stage
	StageIndex int

	// Components acquired for this stage, keyed by component name. Handles
	// are valid only for the duration of the Execute call.
	Components map[string]*ComponentHandle
}

// Component returns the instance for a named component, or nil.
func (jc *JobContext) Component(name string) any {
	if h, ok := jc.Components[name]; ok {
		return h.Instance
	}
	return nil
}

// StageExecutor is the single contract concrete stage implementations
// (discovery, chunking, image extraction, embedding, entity creation)
// satisfy. Executors are not required to be idempotent: checkpoint gating in
// the orchestrator guarantees at-most-once invocation per completed stage.
type StageExecutor interface {
	Execute(ctx context.Context, jc *JobContext, prior OutputRefs) (OutputRefs, error)
}

// ExecutorFunc adapts a function to the StageExecutor interface.
type ExecutorFunc func(ctx context.Context, jc *JobContext, prior OutputRefs) (OutputRefs, error)

// Execute implements StageExecutor.
func (f ExecutorFunc) Execute(ctx context.Context, jc *JobContext, prior OutputRefs) (OutputRefs, error) {
	return f(ctx, jc, prior)
}
