package recovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/storage"
)

func newTestStore(t *testing.T) *storage.GormStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func createJob(t *testing.T, store *storage.GormStorage) *core.Job {
	t.Helper()
	job := &core.Job{
		DocumentRef: "s3://docs/a.pdf",
		Stages: core.StageList{
			{Name: "discovery"},
			{Name: "chunk"},
			{Name: "embed"},
		},
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func TestReconcile_MarksRunningJobsInterrupted(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	require.NoError(t, store.MarkRunning(context.Background(), job.ID))

	svc := NewService(store, store)
	recovered, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, job.ID, recovered[0].JobID)
	assert.True(t, recovered[0].FromScratch)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInterrupted, got.Status)
}

func TestReconcile_SkipsPendingJobs(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)

	svc := NewService(store, store)
	recovered, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, got.Status)
}

func TestReconcile_LeavesInterruptedJobsAlone(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	require.NoError(t, store.MarkRunning(context.Background(), job.ID))
	require.NoError(t, store.MarkInterrupted(context.Background(), job.ID, "worker shutdown"))

	svc := NewService(store, store)
	recovered, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, recovered, 1)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusInterrupted, got.Status)
	assert.Equal(t, "worker shutdown", got.LastError, "reason from the original interruption is kept")
}

// Crash between checkpoint save and cursor advance: the job row lags the
// checkpoint store. Reconcile realigns the row from the store.
func TestReconcile_RealignsStaleCursor(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	require.NoError(t, store.MarkRunning(context.Background(), job.ID))
	require.NoError(t, store.Save(context.Background(), &core.Checkpoint{
		JobID: job.ID, StageIndex: 0, StageName: "discovery",
		OutputRefs: core.OutputRefs{"page": {"p1"}},
	}))
	// Cursor advance never happened.

	svc := NewService(store, store)
	recovered, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "discovery", recovered[0].LastCheckpointStage)
	assert.False(t, recovered[0].FromScratch)

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentStage)
	assert.Equal(t, "discovery", got.LastCheckpointStage)
	assert.Equal(t, core.StatusInterrupted, got.Status)
}

func TestReconcile_Idempotent(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	require.NoError(t, store.MarkRunning(context.Background(), job.ID))
	require.NoError(t, store.Save(context.Background(), &core.Checkpoint{
		JobID: job.ID, StageIndex: 0, StageName: "discovery",
	}))

	svc := NewService(store, store)
	_, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	first, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	_, err = svc.Reconcile(context.Background())
	require.NoError(t, err)
	second, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.CurrentStage, second.CurrentStage)
	assert.Equal(t, first.LastError, second.LastError)
}

func TestReconcile_IgnoresTerminalJobs(t *testing.T) {
	store := newTestStore(t)
	completed := createJob(t, store)
	require.NoError(t, store.MarkRunning(context.Background(), completed.ID))
	require.NoError(t, store.MarkCompleted(context.Background(), completed.ID))

	failed := createJob(t, store)
	require.NoError(t, store.MarkRunning(context.Background(), failed.ID))
	require.NoError(t, store.MarkFailed(context.Background(), failed.ID, "bad input"))

	svc := NewService(store, store)
	recovered, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, recovered)
}

func TestResumeStage(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	svc := NewService(store, store)

	// No checkpoints yet: start from scratch.
	stage, ok, err := svc.ResumeStage(context.Background(), job.ID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, stage)

	require.NoError(t, store.Save(context.Background(), &core.Checkpoint{
		JobID: job.ID, StageIndex: 0, StageName: "discovery",
	}))
	require.NoError(t, store.Save(context.Background(), &core.Checkpoint{
		JobID: job.ID, StageIndex: 1, StageName: "chunk",
	}))

	stage, ok, err = svc.ResumeStage(context.Background(), job.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chunk", stage)
}
