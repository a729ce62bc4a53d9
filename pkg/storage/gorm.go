package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// leaseDuration is how long a claimed job stays locked without renewal.
const leaseDuration = 5 * time.Minute

// GormStorage implements core.Registry and core.CheckpointStore using GORM.
type GormStorage struct {
	db *gorm.DB
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB) *GormStorage {
	return &GormStorage{db: db}
}

// DB exposes the underlying handle for pool tuning and stats queries.
func (s *GormStorage) DB() *gorm.DB {
	return s.db
}

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&core.Job{}, &core.Checkpoint{}, &core.MemorySample{})
}

// CreateJob persists a new job, defaulting ID, status and stage list.
func (s *GormStorage) CreateJob(ctx context.Context, job *core.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = core.StatusPending
	}
	if len(job.Stages) == 0 {
		job.Stages = core.DefaultStages()
	}
	return s.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a job by ID. Returns core.ErrJobNotFound if missing.
func (s *GormStorage) GetJob(ctx context.Context, jobID string) (*core.Job, error) {
	var job core.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", jobID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimJob fetches and leases the next runnable job: pending jobs first,
// then interrupted jobs awaiting resume. Returns nil when nothing is due.
func (s *GormStorage) ClaimJob(ctx context.Context, workerID string) (*core.Job, error) {
	var job core.Job
	now := time.Now()
	lockUntil := now.Add(leaseDuration)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("status IN ?", []core.JobStatus{core.StatusPending, core.StatusInterrupted}).
			Where("(locked_until IS NULL OR locked_until < ?)", now).
			Order("created_at ASC").
			First(&job)

		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				return nil
			}
			return result.Error
		}

		job.LockedBy = workerID
		job.LockedUntil = &lockUntil
		if job.StartedAt == nil {
			job.StartedAt = &now
		}

		return tx.Save(&job).Error
	})

	if err != nil {
		return nil, err
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

// RenewLease extends the lease on a job held by workerID. Long-running stages
// renew periodically so the stale sweep never reclaims a live job.
func (s *GormStorage) RenewLease(ctx context.Context, jobID, workerID string) error {
	lockUntil := time.Now().Add(leaseDuration)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ? AND locked_by = ?", jobID, workerID).
		Update("locked_until", lockUntil)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&core.Job{}).
			Where("id = ?", jobID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return core.ErrJobNotFound
		}
		return core.ErrJobNotOwned
	}
	return nil
}

// MarkRunning transitions a job to running. The original start time survives
// resume: started_at is set only on the first transition.
func (s *GormStorage) MarkRunning(ctx context.Context, jobID string) error {
	now := time.Now()
	return s.updateJob(ctx, jobID, map[string]any{
		"status":     core.StatusRunning,
		"started_at": gorm.Expr("COALESCE(started_at, ?)", now),
	})
}

// MarkInterrupted transitions a job to interrupted and releases its lease.
// Interrupted jobs are safely resumable without operator action.
func (s *GormStorage) MarkInterrupted(ctx context.Context, jobID string, reason string) error {
	return s.updateJob(ctx, jobID, map[string]any{
		"status":       core.StatusInterrupted,
		"last_error":   core.TruncateError(reason),
		"locked_by":    "",
		"locked_until": nil,
	})
}

// MarkCompleted transitions a job to its terminal completed state.
func (s *GormStorage) MarkCompleted(ctx context.Context, jobID string) error {
	now := time.Now()
	return s.updateJob(ctx, jobID, map[string]any{
		"status":       core.StatusCompleted,
		"completed_at": now,
		"locked_by":    "",
		"locked_until": nil,
	})
}

// MarkFailed transitions a job to its terminal failed state.
func (s *GormStorage) MarkFailed(ctx context.Context, jobID string, reason string) error {
	now := time.Now()
	return s.updateJob(ctx, jobID, map[string]any{
		"status":       core.StatusFailed,
		"last_error":   core.TruncateError(reason),
		"completed_at": now,
		"locked_by":    "",
		"locked_until": nil,
	})
}

// AdvanceStage records that stageIndex checkpointed; the job continues at
// stageIndex+1.
func (s *GormStorage) AdvanceStage(ctx context.Context, jobID string, stageIndex int, stageName string) error {
	return s.updateJob(ctx, jobID, map[string]any{
		"current_stage":         stageIndex + 1,
		"last_checkpoint_stage": stageName,
	})
}

func (s *GormStorage) updateJob(ctx context.Context, jobID string, updates map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("id = ?", jobID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// JobsByStatus retrieves jobs by status, oldest first.
func (s *GormStorage) JobsByStatus(ctx context.Context, status core.JobStatus, limit int) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

// ReleaseStaleLeases frees jobs whose lease expired longer than olderThan
// ago, marking them interrupted so the recovery path picks them up.
func (s *GormStorage) ReleaseStaleLeases(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := s.db.WithContext(ctx).
		Model(&core.Job{}).
		Where("status = ?", core.StatusRunning).
		Where("locked_until < ?", cutoff).
		Updates(map[string]any{
			"status":       core.StatusInterrupted,
			"locked_by":    "",
			"locked_until": nil,
		})
	return result.RowsAffected, result.Error
}

// SaveMemorySample persists one memory sample.
func (s *GormStorage) SaveMemorySample(ctx context.Context, sample *core.MemorySample) error {
	return s.db.WithContext(ctx).Create(sample).Error
}

// MemorySamples returns persisted samples for a job, oldest first.
func (s *GormStorage) MemorySamples(ctx context.Context, jobID string, limit int) ([]core.MemorySample, error) {
	var samples []core.MemorySample
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("timestamp ASC").
		Limit(limit).
		Find(&samples).Error
	return samples, err
}

// Save atomically records a checkpoint. The write is rejected with
// core.ErrCheckpointOutOfOrder unless the checkpoint continues the job's
// contiguous stage sequence (index 0 for the first, latest+1 afterwards).
func (s *GormStorage) Save(ctx context.Context, cp *core.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest core.Checkpoint
		next := 0
		err := tx.
			Where("job_id = ?", cp.JobID).
			Order("stage_index DESC").
			First(&latest).Error
		switch {
		case err == nil:
			next = latest.StageIndex + 1
		case errors.Is(err, gorm.ErrRecordNotFound):
			// First checkpoint for this job.
		default:
			return err
		}

		if cp.StageIndex != next {
			return fmt.Errorf("%w: job %s has latest stage %d, got %d",
				core.ErrCheckpointOutOfOrder, cp.JobID, next-1, cp.StageIndex)
		}

		return tx.Create(cp).Error
	})
}

// GetLatest returns the most recent checkpoint for the job, or nil.
func (s *GormStorage) GetLatest(ctx context.Context, jobID string) (*core.Checkpoint, error) {
	var cp core.Checkpoint
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("stage_index DESC").
		First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// List returns all checkpoints for the job in stage order.
func (s *GormStorage) List(ctx context.Context, jobID string) ([]core.Checkpoint, error) {
	var checkpoints []core.Checkpoint
	err := s.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("stage_index ASC").
		Find(&checkpoints).Error
	return checkpoints, err
}

// ListIncompleteJobs returns jobs without a terminal status.
func (s *GormStorage) ListIncompleteJobs(ctx context.Context) ([]*core.Job, error) {
	var jobs []*core.Job
	err := s.db.WithContext(ctx).
		Where("status IN ?", []core.JobStatus{core.StatusPending, core.StatusRunning, core.StatusInterrupted}).
		Order("created_at ASC").
		Find(&jobs).Error
	return jobs, err
}

// Reset deletes all checkpoints for a job and rewinds its cursor, for an
// explicit full restart. Partial history edits are not supported.
func (s *GormStorage) Reset(ctx context.Context, jobID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&core.Checkpoint{}).Error; err != nil {
			return err
		}
		return tx.Model(&core.Job{}).
			Where("id = ?", jobID).
			Updates(map[string]any{
				"current_stage":         0,
				"last_checkpoint_stage": "",
				"status":                core.StatusPending,
				"last_error":            "",
			}).Error
	})
}
