// Package pipeline provides a checkpointed, resumable document-processing
// pipeline with lazy resource management.
//
// This is the main package users should import. It re-exports the public
// types from the internal pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Create storage and orchestrator
//	db, _ := gorm.Open(sqlite.Open("pipeline.db"), &gorm.Config{})
//	store := pipeline.NewGormStorage(db)
//	store.Migrate(context.Background())
//	orch := pipeline.NewOrchestrator(store, store)
//
//	// Register stage executors
//	orch.RegisterExecutor(pipeline.StageChunk, chunkExecutor)
//
//	// Reconcile after restart, then start a worker
//	recovery := pipeline.NewRecoveryService(store, store)
//	recovery.Reconcile(ctx)
//	worker := pipeline.NewWorker(orch, store)
//	worker.Start(ctx)
package pipeline

import (
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/lifecycle"
	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/orchestrator"
	"github.com/jdziat/doc-pipeline/pkg/pool"
	"github.com/jdziat/doc-pipeline/pkg/recovery"
	"github.com/jdziat/doc-pipeline/pkg/schedule"
	"github.com/jdziat/doc-pipeline/pkg/storage"
	"github.com/jdziat/doc-pipeline/pkg/worker"
)

// Type aliases re-exported from internal packages.
type (
	// Job is a single document run through the pipeline.
	Job = core.Job

	// JobStatus represents the current state of a job.
	JobStatus = core.JobStatus

	// Stage describes one unit of pipeline work.
	Stage = core.Stage

	// StageList is an ordered list of stages.
	StageList = core.StageList

	// Checkpoint records durable completion of a stage for a job.
	Checkpoint = core.Checkpoint

	// OutputRefs are opaque identifiers of artifacts a stage produced.
	OutputRefs = core.OutputRefs

	// MemorySample is one instantaneous reading of process memory.
	MemorySample = core.MemorySample

	// ComponentHandle wraps a live heavy collaborator instance.
	ComponentHandle = core.ComponentHandle

	// Registry is the persistence contract for job bookkeeping.
	Registry = core.Registry

	// CheckpointStore is the durable record of stage completion.
	CheckpointStore = core.CheckpointStore

	// StageExecutor is the contract stage implementations satisfy.
	StageExecutor = core.StageExecutor

	// ExecutorFunc adapts a function to StageExecutor.
	ExecutorFunc = core.ExecutorFunc

	// JobContext carries per-invocation state into a stage executor.
	JobContext = core.JobContext

	// Event is the interface for all pipeline events.
	Event = core.Event

	// Orchestrator sequences a job's stages with mandatory checkpointing.
	Orchestrator = orchestrator.Orchestrator

	// Pool is a bounded cache of reusable component instances.
	Pool = pool.Pool

	// PoolSet is a collection of pools keyed by component name.
	PoolSet = pool.Set

	// LifecycleManager builds and releases non-pooled heavy components.
	LifecycleManager = lifecycle.Manager

	// MemoryTracker attributes memory usage to stage/component boundaries.
	MemoryTracker = memtrack.Tracker

	// RecoveryService reconciles checkpoint state after unclean shutdown.
	RecoveryService = recovery.Service

	// Worker claims runnable jobs and executes them concurrently.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// GormStorage implements Registry and CheckpointStore using GORM.
	GormStorage = storage.GormStorage

	// Schedule computes the next run time for maintenance work.
	Schedule = schedule.Schedule
)

// Status constants.
const (
	StatusPending     = core.StatusPending
	StatusRunning     = core.StatusRunning
	StatusInterrupted = core.StatusInterrupted
	StatusCompleted   = core.StatusCompleted
	StatusFailed      = core.StatusFailed
)

// Well-known stage names.
const (
	StageDiscovery    = core.StageDiscovery
	StageChunk        = core.StageChunk
	StageImageExtract = core.StageImageExtract
	StageEmbed        = core.StageEmbed
	StageEntityCreate = core.StageEntityCreate
)

// Error variables.
var (
	ErrJobNotFound            = core.ErrJobNotFound
	ErrCheckpointOutOfOrder   = core.ErrCheckpointOutOfOrder
	ErrNoExecutor             = core.ErrNoExecutor
	ErrComponentNotRegistered = core.ErrComponentNotRegistered
	ErrPoolClosed             = core.ErrPoolClosed
	ErrAcquireTimeout         = core.ErrAcquireTimeout
)

// NewGormStorage creates a GORM-backed Registry and CheckpointStore.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return storage.NewGormStorage(db)
}

// NewOrchestrator creates an orchestrator over the given registry and
// checkpoint store.
func NewOrchestrator(registry Registry, checkpoints CheckpointStore, opts ...orchestrator.Option) *Orchestrator {
	return orchestrator.New(registry, checkpoints, opts...)
}

// NewPool creates a bounded component pool.
func NewPool(name string, maxSize int, factory pool.Factory, opts ...pool.Option) *Pool {
	return pool.New(name, maxSize, factory, opts...)
}

// NewLifecycleManager creates an empty component lifecycle manager.
func NewLifecycleManager(opts ...lifecycle.Option) *LifecycleManager {
	return lifecycle.NewManager(opts...)
}

// NewMemoryTracker creates a tracker sampling the current process.
func NewMemoryTracker(opts ...memtrack.Option) *MemoryTracker {
	return memtrack.New(opts...)
}

// NewRecoveryService creates the startup reconciliation service.
func NewRecoveryService(registry Registry, checkpoints CheckpointStore, opts ...recovery.Option) *RecoveryService {
	return recovery.NewService(registry, checkpoints, opts...)
}

// NewWorker creates a worker executing jobs through the orchestrator.
func NewWorker(orch *Orchestrator, registry Registry, opts ...WorkerOption) *Worker {
	return worker.NewWorker(orch, registry, opts...)
}

// Fatal wraps an error to mark a stage failure terminal for the job.
func Fatal(err error) error {
	return core.Fatal(err)
}

// Transient wraps an error to mark a stage failure retryable.
func Transient(err error) error {
	return core.Transient(err)
}

// DefaultStages returns the stage list for document ingestion jobs.
func DefaultStages() StageList {
	return core.DefaultStages()
}

// Worker option re-exports.

// Concurrency sets the maximum number of jobs in flight.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// Schedule constructors.

// Every creates a schedule that runs at fixed intervals.
func Every(d time.Duration) Schedule {
	return schedule.Every(d)
}

// Daily creates a schedule that runs at a specific UTC time each day.
func Daily(hour, minute int) Schedule {
	return schedule.Daily(hour, minute)
}

// Cron creates a schedule from a cron expression.
func Cron(expr string) Schedule {
	return schedule.Cron(expr)
}
