package pipeline_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	pipeline "github.com/jdziat/doc-pipeline"
	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/orchestrator"
	"github.com/jdziat/doc-pipeline/pkg/pool"
)

func openStore(t *testing.T) *pipeline.GormStorage {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	store := pipeline.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// Full document ingestion run through the facade: all five default stages,
// lifecycle-managed chunker and image extractor, pooled embedder and
// classifier, memory tracking on every boundary.
func TestPipeline_EndToEnd(t *testing.T) {
	store := openStore(t)

	tracker := pipeline.NewMemoryTracker(memtrack.WithSampler(
		func() (core.MemorySample, error) {
			return core.MemorySample{Timestamp: time.Now(), RSS: 256 << 20}, nil
		}))

	pools := pool.NewSet()
	pools.Add(pipeline.NewPool("embedder", 2, func(ctx context.Context) (any, error) {
		return "embedder", nil
	}))
	pools.Add(pipeline.NewPool("classifier", 2, func(ctx context.Context) (any, error) {
		return "classifier", nil
	}))

	orch := pipeline.NewOrchestrator(store, store,
		orchestrator.WithPools(pools),
		orchestrator.WithMemoryTracker(tracker),
	)
	for _, name := range []string{"chunker", "image-extractor"} {
		orch.Lifecycle().Register(name, func(ctx context.Context) (any, error) {
			return name, nil
		}, nil)
	}
	for _, stage := range pipeline.DefaultStages() {
		orch.RegisterExecutor(stage.Name, pipeline.ExecutorFunc(
			func(ctx context.Context, jc *pipeline.JobContext, prior pipeline.OutputRefs) (pipeline.OutputRefs, error) {
				return pipeline.OutputRefs{jc.Stage.Name: {jc.Stage.Name + "-artifact"}}, nil
			}))
	}

	job := &pipeline.Job{DocumentRef: "s3://docs/manual.pdf", Stages: pipeline.DefaultStages()}
	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, orch.Run(context.Background(), job))

	got, err := store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, got.Status)
	assert.Equal(t, 1.0, got.Progress())
	assert.Equal(t, pipeline.StageEntityCreate, got.LastCheckpointStage)

	cps, err := store.List(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, cps, 5)

	// Every stage got a paired memory bracket.
	metrics := tracker.Metrics()
	for _, stage := range pipeline.DefaultStages() {
		assert.Contains(t, metrics.StageDeltas, stage.Name)
	}
	assert.Contains(t, metrics.ComponentDeltas, "chunker")

	// Pooled instances survive the run for reuse.
	p, ok := pools.Get("embedder")
	require.True(t, ok)
	assert.Equal(t, 1, p.Stats().Available)
}

// A worker started against a store holding an interrupted job picks it up and
// finishes only the remaining stages.
func TestPipeline_WorkerResumesAfterRestart(t *testing.T) {
	store := openStore(t)

	job := &pipeline.Job{
		DocumentRef: "s3://docs/report.pdf",
		Stages: pipeline.StageList{
			{Name: pipeline.StageDiscovery},
			{Name: pipeline.StageChunk},
		},
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, store.Save(context.Background(), &pipeline.Checkpoint{
		JobID:      job.ID,
		StageIndex: 0,
		StageName:  pipeline.StageDiscovery,
		OutputRefs: pipeline.OutputRefs{"page": {"p1"}},
	}))
	require.NoError(t, store.MarkRunning(context.Background(), job.ID))

	// Simulated restart.
	svc := pipeline.NewRecoveryService(store, store)
	_, err := svc.Reconcile(context.Background())
	require.NoError(t, err)

	orch := pipeline.NewOrchestrator(store, store)
	var rediscovered, chunked atomic.Bool
	orch.RegisterExecutor(pipeline.StageDiscovery, pipeline.ExecutorFunc(
		func(ctx context.Context, jc *pipeline.JobContext, prior pipeline.OutputRefs) (pipeline.OutputRefs, error) {
			rediscovered.Store(true)
			return nil, nil
		}))
	orch.RegisterExecutor(pipeline.StageChunk, pipeline.ExecutorFunc(
		func(ctx context.Context, jc *pipeline.JobContext, prior pipeline.OutputRefs) (pipeline.OutputRefs, error) {
			chunked.Store(true)
			assert.Equal(t, pipeline.OutputRefs{"page": {"p1"}}, prior)
			return pipeline.OutputRefs{"chunk": {"c1"}}, nil
		}))

	w := pipeline.NewWorker(orch, store, pipeline.Concurrency(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	require.Eventually(t, func() bool {
		got, err := store.GetJob(context.Background(), job.ID)
		return err == nil && got.Status == pipeline.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	assert.False(t, rediscovered.Load(), "checkpointed stage must not re-run")
	assert.True(t, chunked.Load())
}
