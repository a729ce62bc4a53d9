package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/orchestrator"
	"github.com/jdziat/doc-pipeline/pkg/schedule"
)

// Worker claims runnable jobs and executes them through the orchestrator on
// a bounded goroutine pool.
type Worker struct {
	orch     *orchestrator.Orchestrator
	registry core.Registry
	config   WorkerConfig
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewWorker creates a worker for the given orchestrator and registry.
func NewWorker(orch *orchestrator.Orchestrator, registry core.Registry, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Concurrency:       4,
		PollInterval:      500 * time.Millisecond,
		WorkerID:          uuid.New().String(),
		StaleAfter:        10 * time.Minute,
		HeartbeatInterval: time.Minute,
		SweepSchedule:     schedule.Every(time.Minute),
		SampleSchedule:    schedule.Every(30 * time.Second),
	}
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	if config.StorageRetry == nil {
		defaultCfg := DefaultRetryConfig()
		config.StorageRetry = &defaultCfg
	}

	return &Worker{
		orch:     orch,
		registry: registry,
		config:   config,
		logger:   slog.Default(),
	}
}

// SetLogger replaces the worker's logger before Start.
func (w *Worker) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// Start begins claiming and processing jobs. It blocks until the context is
// cancelled; in-flight jobs finish their current stage before stopping,
// since cancellation is checked at stage boundaries.
func (w *Worker) Start(ctx context.Context) error {
	pool, err := ants.NewPool(w.config.Concurrency)
	if err != nil {
		return err
	}
	defer pool.Release()

	go w.runMaintenance(ctx)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.logger.Info("worker started", "worker_id", w.config.WorkerID,
		"concurrency", w.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			job, err := w.claimWithRetry(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
					w.logger.Error("failed to claim job after retries", "error", err)
				}
				continue
			}
			if job == nil {
				continue
			}

			w.wg.Add(1)
			j := job
			// Submit blocks once Concurrency jobs are in flight, pausing
			// the poll loop until a slot frees.
			if err := pool.Submit(func() {
				defer w.wg.Done()
				w.processJob(ctx, j)
			}); err != nil {
				w.wg.Done()
				w.logger.Error("failed to submit job", "job_id", j.ID, "error", err)
				w.release(ctx, j)
			}
		}
	}
}

// claimWithRetry leases the next runnable job with backoff on storage errors.
func (w *Worker) claimWithRetry(ctx context.Context) (*core.Job, error) {
	var job *core.Job
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		var claimErr error
		job, claimErr = w.registry.ClaimJob(ctx, w.config.WorkerID)
		return claimErr
	})
	return job, err
}

func (w *Worker) processJob(ctx context.Context, job *core.Job) {
	// The lease must outlive the slowest stage, so it is renewed for as long
	// as the job executes. Without renewal the stale sweep would reclaim the
	// job mid-stage and a second worker would run the same stage concurrently.
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.runHeartbeat(heartbeatCtx, job.ID)

	if w.config.Tracker != nil {
		if sample, err := w.config.Tracker.Snapshot("job:" + job.ID); err == nil {
			sample.JobID = job.ID
			if saveErr := w.registry.SaveMemorySample(ctx, &sample); saveErr != nil {
				w.logger.Debug("memory sample persist failed", "job_id", job.ID, "error", saveErr)
			}
		}
	}

	var err error
	if job.Status == core.StatusInterrupted {
		err = w.orch.Resume(ctx, job.ID)
	} else {
		err = w.orch.Run(ctx, job)
	}
	if err != nil {
		// The orchestrator already transitioned the job; just log.
		w.logger.Warn("job did not complete", "job_id", job.ID, "error", err)
	}
}

// runHeartbeat periodically extends the lease on an executing job until its
// context is cancelled.
func (w *Worker) runHeartbeat(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
				return w.registry.RenewLease(ctx, jobID, w.config.WorkerID)
			})
			if errors.Is(err, core.ErrJobNotOwned) || errors.Is(err, core.ErrJobNotFound) {
				// The job finished or was released; nothing left to renew.
				return
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("lease renewal failed", "job_id", jobID, "error", err)
			}
		}
	}
}

// release returns a claimed job that could not be submitted.
func (w *Worker) release(ctx context.Context, job *core.Job) {
	if err := w.registry.MarkInterrupted(ctx, job.ID, "worker submit failed"); err != nil {
		w.logger.Error("failed to release claimed job", "job_id", job.ID, "error", err)
	}
}

// runMaintenance runs the scheduled background passes: stale-lease sweeps
// and periodic memory sampling.
func (w *Worker) runMaintenance(ctx context.Context) {
	now := time.Now()
	nextSweep := w.config.SweepSchedule.Next(now)
	nextSample := w.config.SampleSchedule.Next(now)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now = time.Now()
			if !now.Before(nextSweep) {
				nextSweep = w.config.SweepSchedule.Next(now)
				n, err := w.registry.ReleaseStaleLeases(ctx, w.config.StaleAfter)
				if err != nil {
					w.logger.Error("stale lease sweep failed", "error", err)
				} else if n > 0 {
					w.logger.Warn("reclaimed stale job leases", "count", n)
				}
			}
			if w.config.Tracker != nil && !now.Before(nextSample) {
				nextSample = w.config.SampleSchedule.Next(now)
				if _, err := w.config.Tracker.Snapshot("background"); err != nil {
					w.logger.Debug("background memory sample failed", "error", err)
				}
			}
		}
	}
}
