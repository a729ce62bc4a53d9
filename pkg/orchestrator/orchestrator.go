package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/lifecycle"
	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/pool"
)

// Orchestrator sequences a job's stages with at-most-once execution per
// completed stage and mandatory checkpointing between stages.
type Orchestrator struct {
	registry    core.Registry
	checkpoints core.CheckpointStore
	lifecycle   *lifecycle.Manager
	pools       *pool.Set
	tracker     *memtrack.Tracker
	logger      *slog.Logger

	stageTimeout time.Duration
	acquireWait  time.Duration

	mu        sync.RWMutex
	executors map[string]core.StageExecutor

	events chan core.Event
}

// New creates an orchestrator over the given registry and checkpoint store.
func New(registry core.Registry, checkpoints core.CheckpointStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:    registry,
		checkpoints: checkpoints,
		lifecycle:   lifecycle.NewManager(),
		pools:       pool.NewSet(),
		logger:      slog.Default(),
		executors:   make(map[string]core.StageExecutor),
		events:      make(chan core.Event, 256),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker != nil {
		o.tracker.OnAlert(func(sample core.MemorySample, critical bool) {
			o.emit(&core.MemoryAlert{Sample: sample, Critical: critical})
		})
	}
	return o
}

// RegisterExecutor binds a stage name to its executor implementation.
func (o *Orchestrator) RegisterExecutor(stageName string, exec core.StageExecutor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executors[stageName] = exec
}

// Lifecycle returns the component lifecycle manager for registrations.
func (o *Orchestrator) Lifecycle() *lifecycle.Manager {
	return o.lifecycle
}

// Pools returns the shared component pool set.
func (o *Orchestrator) Pools() *pool.Set {
	return o.pools
}

// Events returns the event stream. Events are dropped, never blocked on,
// when the channel is full.
func (o *Orchestrator) Events() <-chan core.Event {
	return o.events
}

func (o *Orchestrator) emit(ev core.Event) {
	select {
	case o.events <- ev:
	default:
	}
}

// Run drives a job from the stage following its latest checkpoint (or the
// first stage if none exists) through the end of its stage list. On a
// transient failure the job is left interrupted and resumable; on a fatal
// failure it is failed terminally.
func (o *Orchestrator) Run(ctx context.Context, job *core.Job) error {
	if job == nil {
		return core.ErrJobNotFound
	}
	if job.Status.Terminal() {
		o.logger.Info("run skipped, job already terminal", "job_id", job.ID, "status", job.Status)
		return nil
	}

	// The checkpoint store, not the job row, decides where to start. Prior
	// output refs come from checkpoint metadata, never from recomputation.
	start := 0
	var prior core.OutputRefs
	cp, err := o.checkpoints.GetLatest(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load latest checkpoint: %w", err)
	}
	if cp != nil {
		start = cp.StageIndex + 1
		prior = cp.OutputRefs
	}

	return o.runFrom(ctx, job, start, prior)
}

// Resume continues a previously interrupted job from its last checkpoint.
// It is idempotent: resuming a job that already reached a terminal state is
// a no-op.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) error {
	job, err := o.registry.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		o.logger.Info("resume is a no-op, job already terminal",
			"job_id", jobID, "status", job.Status)
		return nil
	}
	return o.Run(ctx, job)
}

func (o *Orchestrator) runFrom(ctx context.Context, job *core.Job, start int, prior core.OutputRefs) error {
	startTime := time.Now()

	if start >= len(job.Stages) {
		// Every stage already checkpointed; only the terminal status write
		// was lost. Finish the bookkeeping.
		if err := o.registry.MarkCompleted(ctx, job.ID); err != nil {
			return err
		}
		o.emit(&core.JobCompleted{Job: job, Duration: 0, Timestamp: time.Now()})
		return nil
	}

	if err := o.registry.MarkRunning(ctx, job.ID); err != nil {
		return err
	}
	o.emit(&core.JobStarted{Job: job, StartStage: start, Timestamp: startTime})
	o.logger.Info("job started", "job_id", job.ID, "document", job.DocumentRef,
		"start_stage", start, "total_stages", len(job.Stages))

	for i := start; i < len(job.Stages); i++ {
		// Cancellation is cooperative and checked only between stages, so an
		// in-flight stage never leaves partially applied, uncheckpointed
		// side effects behind.
		select {
		case <-ctx.Done():
			reason := fmt.Sprintf("cancelled before stage %d: %v", i, ctx.Err())
			if err := o.registry.MarkInterrupted(context.WithoutCancel(ctx), job.ID, reason); err != nil {
				o.logger.Error("failed to mark job interrupted", "job_id", job.ID, "error", err)
			}
			o.emit(&core.JobInterrupted{Job: job, Error: ctx.Err(), Timestamp: time.Now()})
			return ctx.Err()
		default:
		}

		stage := job.Stages[i]
		stageStart := time.Now()

		refs, stageErr := o.executeStage(ctx, job, i, stage, prior)
		if stageErr != nil {
			return o.handleStageError(ctx, job, stage, stageErr)
		}

		cp := &core.Checkpoint{
			JobID:      job.ID,
			StageIndex: i,
			StageName:  stage.Name,
			OutputRefs: refs,
			Meta: core.Metadata{
				"document_ref": job.DocumentRef,
				"duration_ms":  fmt.Sprintf("%d", time.Since(stageStart).Milliseconds()),
			},
		}
		if err := o.checkpoints.Save(ctx, cp); err != nil {
			// Resume correctness depends on checkpoint durability: never
			// advance past a stage whose checkpoint failed to persist. The
			// failure is transient so the stage re-runs on resume.
			reason := fmt.Sprintf("checkpoint save for stage %s: %v", stage.Name, err)
			o.logger.Error("checkpoint save failed", "job_id", job.ID, "stage", stage.Name, "error", err)
			if markErr := o.registry.MarkInterrupted(ctx, job.ID, reason); markErr != nil {
				o.logger.Error("failed to mark job interrupted", "job_id", job.ID, "error", markErr)
			}
			o.emit(&core.JobInterrupted{Job: job, StageName: stage.Name, Error: err, Timestamp: time.Now()})
			return core.Transient(err)
		}
		o.emit(&core.CheckpointSaved{JobID: job.ID, StageIndex: i, StageName: stage.Name, Timestamp: time.Now()})

		if err := o.registry.AdvanceStage(ctx, job.ID, i, stage.Name); err != nil {
			o.logger.Error("failed to advance stage cursor", "job_id", job.ID, "error", err)
		}
		job.CurrentStage = i + 1
		job.LastCheckpointStage = stage.Name

		o.emit(&core.StageCompleted{
			JobID:      job.ID,
			StageIndex: i,
			StageName:  stage.Name,
			Duration:   time.Since(stageStart),
			Timestamp:  time.Now(),
		})
		o.logger.Info("stage completed", "job_id", job.ID, "stage", stage.Name,
			"duration", time.Since(stageStart))

		prior = refs
	}

	if err := o.registry.MarkCompleted(ctx, job.ID); err != nil {
		return err
	}
	job.Status = core.StatusCompleted
	o.emit(&core.JobCompleted{Job: job, Duration: time.Since(startTime), Timestamp: time.Now()})
	o.logger.Info("job completed", "job_id", job.ID, "duration", time.Since(startTime))
	return nil
}

func (o *Orchestrator) handleStageError(ctx context.Context, job *core.Job, stage core.Stage, err error) error {
	if core.IsFatal(err) {
		reason := fmt.Sprintf("stage %s: %v", stage.Name, err)
		o.logger.Error("stage failed fatally", "job_id", job.ID, "stage", stage.Name, "error", err)
		if markErr := o.registry.MarkFailed(ctx, job.ID, reason); markErr != nil {
			o.logger.Error("failed to mark job failed", "job_id", job.ID, "error", markErr)
		}
		o.emit(&core.JobFailed{Job: job, StageName: stage.Name, Error: err, Timestamp: time.Now()})
		return err
	}

	reason := fmt.Sprintf("stage %s: %v", stage.Name, err)
	o.logger.Warn("stage failed, job interrupted", "job_id", job.ID, "stage", stage.Name, "error", err)
	if markErr := o.registry.MarkInterrupted(context.WithoutCancel(ctx), job.ID, reason); markErr != nil {
		o.logger.Error("failed to mark job interrupted", "job_id", job.ID, "error", markErr)
	}
	o.emit(&core.JobInterrupted{Job: job, StageName: stage.Name, Error: err, Timestamp: time.Now()})
	return err
}

// executeStage acquires components, brackets the call with memory samples
// and invokes the stage executor.
func (o *Orchestrator) executeStage(ctx context.Context, job *core.Job, index int, stage core.Stage, prior core.OutputRefs) (core.OutputRefs, error) {
	o.mu.RLock()
	exec, ok := o.executors[stage.Name]
	o.mu.RUnlock()
	if !ok {
		return nil, core.Fatal(fmt.Errorf("%w: %s", core.ErrNoExecutor, stage.Name))
	}

	if o.tracker != nil {
		o.tracker.RecordStageStart(stage.Name)
		defer o.tracker.RecordStageEnd(stage.Name)
	}

	components := make(map[string]*core.ComponentHandle)

	// Pooled components: blocking acquire is the back-pressure point.
	var acquired []*pool.Pool
	var handles []*core.ComponentHandle
	releaseAll := func() {
		for i, p := range acquired {
			p.Release(handles[i])
		}
	}
	for _, name := range stage.Pooled {
		p, found := o.pools.Get(name)
		if !found {
			releaseAll()
			return nil, core.Fatal(fmt.Errorf("%w: no pool for %s", core.ErrComponentNotRegistered, name))
		}
		h, err := o.acquire(ctx, p)
		if err != nil {
			releaseAll()
			return nil, err
		}
		acquired = append(acquired, p)
		handles = append(handles, h)
		components[name] = h
	}
	defer releaseAll()

	// Lifecycle-managed components: constructed for this stage only. A load
	// failure is retried once; a second failure escalates to a fatal stage
	// error for this stage.
	var loaded []*core.ComponentHandle
	defer func() {
		for _, h := range loaded {
			o.lifecycle.Unload(ctx, h)
		}
	}()
	for _, name := range stage.Managed {
		h, err := o.lifecycle.Load(ctx, name)
		if err != nil {
			o.logger.Warn("component load failed, retrying once",
				"job_id", job.ID, "component", name, "error", err)
			h, err = o.lifecycle.Load(ctx, name)
		}
		if err != nil {
			return nil, core.Fatal(err)
		}
		loaded = append(loaded, h)
		components[name] = h
	}

	jc := &core.JobContext{
		Job:        job,
		Stage:      stage,
		StageIndex: index,
		Components: components,
	}

	stageCtx := ctx
	if o.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, o.stageTimeout)
		defer cancel()
	}

	refs, err := exec.Execute(stageCtx, jc, prior)
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// acquire takes a pooled component, bounded by the configured acquire wait
// when one is set.
func (o *Orchestrator) acquire(ctx context.Context, p *pool.Pool) (*core.ComponentHandle, error) {
	if o.acquireWait > 0 {
		return p.AcquireTimeout(ctx, o.acquireWait)
	}
	return p.Acquire(ctx)
}
