package memtrack

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// syntheticSampler returns a sampler whose RSS follows the given sequence,
// repeating the last value once exhausted.
func syntheticSampler(rss ...uint64) Sampler {
	i := 0
	var mu sync.Mutex
	return func() (core.MemorySample, error) {
		mu.Lock()
		defer mu.Unlock()
		v := rss[len(rss)-1]
		if i < len(rss) {
			v = rss[i]
			i++
		}
		return core.MemorySample{Timestamp: time.Now(), RSS: v, VMS: v * 2}, nil
	}
}

func TestComponentDelta_KnownFootprint(t *testing.T) {
	const footprint = 50 << 20 // 50 MiB

	t1 := New(WithSampler(syntheticSampler(100<<20, 100<<20+footprint)))
	t1.RecordComponentLoad("embedder")
	t1.RecordComponentUnload("embedder")

	m := t1.Metrics()
	assert.Equal(t, int64(footprint), m.ComponentDeltas["embedder"])
}

func TestStageDelta_PairedSamples(t *testing.T) {
	tr := New(WithSampler(syntheticSampler(100, 160)))
	tr.RecordStageStart("chunk")
	tr.RecordStageEnd("chunk")

	m := tr.Metrics()
	assert.Equal(t, int64(60), m.StageDeltas["chunk"])
}

func TestStageEnd_WithoutStartIsIgnored(t *testing.T) {
	tr := New(WithSampler(syntheticSampler(100)))
	tr.RecordStageEnd("chunk")

	m := tr.Metrics()
	assert.NotContains(t, m.StageDeltas, "chunk")
}

func TestHistory_BoundedRingEvictsOldest(t *testing.T) {
	tr := New(
		WithSampler(syntheticSampler(1, 2, 3, 4, 5)),
		WithHistorySize(3),
	)
	for i := 0; i < 5; i++ {
		_, err := tr.Snapshot("s")
		require.NoError(t, err)
	}

	m := tr.Metrics()
	// Metrics itself takes one more sample (RSS 5, the repeated last value).
	require.Len(t, m.History, 3)
	assert.Equal(t, uint64(4), m.History[0].RSS)
	assert.Equal(t, uint64(5), m.History[1].RSS)
	assert.Equal(t, uint64(5), m.History[2].RSS)
}

func TestThresholds_WarningAndCritical(t *testing.T) {
	const warn = 1000

	var alerts []bool
	tr := New(
		WithSampler(syntheticSampler(900, 1050, 1200)),
		WithWarnThreshold(warn),
		WithAlertFunc(func(_ core.MemorySample, critical bool) {
			alerts = append(alerts, critical)
		}),
	)

	_, err := tr.Snapshot("ok")
	require.NoError(t, err)
	_, err = tr.Snapshot("warn") // 1050 >= 1000, < 1100
	require.NoError(t, err)
	_, err = tr.Snapshot("crit") // 1200 >= 1.1*1000
	require.NoError(t, err)

	warnings, criticals := tr.AlertCounts()
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, criticals)
	assert.Equal(t, []bool{false, true}, alerts)
}

func TestThresholds_DisabledByDefault(t *testing.T) {
	tr := New(WithSampler(syntheticSampler(1 << 40)))
	_, err := tr.Snapshot("huge")
	require.NoError(t, err)

	warnings, criticals := tr.AlertCounts()
	assert.Zero(t, warnings)
	assert.Zero(t, criticals)
}

func TestConcurrentWriters(t *testing.T) {
	tr := New(WithSampler(syntheticSampler(100)), WithHistorySize(64))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tr.RecordStageStart("s")
				tr.RecordStageEnd("s")
				_, _ = tr.Snapshot("bg")
			}
		}()
	}
	wg.Wait()

	m := tr.Metrics()
	assert.Len(t, m.History, 64)
}

func TestProcessSampler_ReadsRealProcess(t *testing.T) {
	s := ProcessSampler()
	sample, err := s()
	require.NoError(t, err)
	assert.NotZero(t, sample.RSS)
	assert.False(t, sample.Timestamp.IsZero())
}

func TestOnAlert_AddsCallbackAfterConstruction(t *testing.T) {
	var optCalls, lateCalls int
	tr := New(
		WithSampler(syntheticSampler(1200)),
		WithWarnThreshold(1000),
		WithAlertFunc(func(core.MemorySample, bool) { optCalls++ }),
	)
	tr.OnAlert(func(_ core.MemorySample, critical bool) {
		lateCalls++
		assert.True(t, critical)
	})

	_, err := tr.Snapshot("crit")
	require.NoError(t, err)

	assert.Equal(t, 1, optCalls, "construction-time callback still fires")
	assert.Equal(t, 1, lateCalls, "late-registered callback fires too")
}
