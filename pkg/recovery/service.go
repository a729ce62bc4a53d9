package recovery

import (
	"context"
	"log/slog"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// RecoveredJob describes one job the reconciliation pass touched.
type RecoveredJob struct {
	JobID               string
	LastCheckpointStage string
	FromScratch         bool
}

// Service detects jobs left mid-flight by an unclean shutdown.
type Service struct {
	registry    core.Registry
	checkpoints core.CheckpointStore
	logger      *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a recovery service.
func NewService(registry core.Registry, checkpoints core.CheckpointStore, opts ...Option) *Service {
	s := &Service{
		registry:    registry,
		checkpoints: checkpoints,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile scans for jobs without a terminal status, marks those left
// running as interrupted and realigns each job's stage cursor with the
// checkpoint store, which is the source of truth. The pass is idempotent:
// running it again changes nothing.
func (s *Service) Reconcile(ctx context.Context) ([]RecoveredJob, error) {
	jobs, err := s.checkpoints.ListIncompleteJobs(ctx)
	if err != nil {
		return nil, err
	}

	var recovered []RecoveredJob
	for _, job := range jobs {
		// Pending jobs never started; nothing to reconcile.
		if job.Status == core.StatusPending {
			continue
		}

		cp, err := s.checkpoints.GetLatest(ctx, job.ID)
		if err != nil {
			return recovered, err
		}

		rec := RecoveredJob{JobID: job.ID, FromScratch: cp == nil}
		if cp != nil {
			rec.LastCheckpointStage = cp.StageName
			// Crash between checkpoint save and cursor advance leaves the
			// row behind the store; realign it.
			if job.CurrentStage != cp.StageIndex+1 || job.LastCheckpointStage != cp.StageName {
				if err := s.registry.AdvanceStage(ctx, job.ID, cp.StageIndex, cp.StageName); err != nil {
					return recovered, err
				}
			}
		}

		if job.Status == core.StatusRunning {
			if err := s.registry.MarkInterrupted(ctx, job.ID, "process restarted mid-flight"); err != nil {
				return recovered, err
			}
			s.logger.Warn("job marked interrupted after restart",
				"job_id", job.ID, "last_checkpoint_stage", rec.LastCheckpointStage)
		}

		recovered = append(recovered, rec)
	}

	s.logger.Info("recovery reconciliation complete", "jobs", len(recovered))
	return recovered, nil
}

// ResumeStage returns the name of the last durably completed stage for a
// job; resume continues after it. ok is false when no checkpoint exists and
// the job must start from scratch. Actual continuation is the orchestrator's
// Resume.
func (s *Service) ResumeStage(ctx context.Context, jobID string) (stage string, ok bool, err error) {
	cp, err := s.checkpoints.GetLatest(ctx, jobID)
	if err != nil {
		return "", false, err
	}
	if cp == nil {
		return "", false, nil
	}
	return cp.StageName, true, nil
}
