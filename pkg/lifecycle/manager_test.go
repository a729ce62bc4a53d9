package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

type recordingObserver struct {
	loads   atomic.Int64
	unloads atomic.Int64
}

func (o *recordingObserver) RecordComponentLoad(string)   { o.loads.Add(1) }
func (o *recordingObserver) RecordComponentUnload(string) { o.unloads.Add(1) }

func TestLoad_ConstructsOnDemand(t *testing.T) {
	m := NewManager()

	var built atomic.Int64
	m.Register("chunker", func(ctx context.Context) (any, error) {
		built.Add(1)
		return "chunker-instance", nil
	}, nil)

	// Registration alone must not construct anything.
	assert.Equal(t, int64(0), built.Load())
	assert.True(t, m.Registered("chunker"))

	h, err := m.Load(context.Background(), "chunker")
	require.NoError(t, err)
	assert.Equal(t, "chunker-instance", h.Instance)
	assert.Equal(t, int64(1), built.Load())
}

func TestLoad_UnregisteredComponent(t *testing.T) {
	m := NewManager()

	_, err := m.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrComponentNotRegistered)
}

func TestLoad_FactoryFailure(t *testing.T) {
	m := NewManager()
	boom := errors.New("out of memory")
	m.Register("vision", func(ctx context.Context) (any, error) {
		return nil, boom
	}, nil)

	_, err := m.Load(context.Background(), "vision")
	var loadErr *core.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "vision", loadErr.Component)
	assert.ErrorIs(t, err, boom)
}

func TestRegister_ReplacesDefinition(t *testing.T) {
	m := NewManager()
	m.Register("chunker", func(ctx context.Context) (any, error) {
		return "old", nil
	}, nil)
	m.Register("chunker", func(ctx context.Context) (any, error) {
		return "new", nil
	}, nil)

	h, err := m.Load(context.Background(), "chunker")
	require.NoError(t, err)
	assert.Equal(t, "new", h.Instance)
}

func TestUnload_RunsCleanup(t *testing.T) {
	m := NewManager()

	var cleaned atomic.Int64
	m.Register("chunker", func(ctx context.Context) (any, error) {
		return "x", nil
	}, func(instance any) error {
		cleaned.Add(1)
		return nil
	})

	h, err := m.Load(context.Background(), "chunker")
	require.NoError(t, err)

	m.Unload(context.Background(), h)
	assert.Equal(t, int64(1), cleaned.Load())
	assert.Equal(t, int32(0), h.Refs())
}

func TestUnload_CleanupFailureDoesNotPanicOrPropagate(t *testing.T) {
	m := NewManager()
	m.Register("chunker", func(ctx context.Context) (any, error) {
		return "x", nil
	}, func(instance any) error {
		return errors.New("close failed")
	})

	h, err := m.Load(context.Background(), "chunker")
	require.NoError(t, err)

	// The stage output is already checkpointed by unload time; a cleanup
	// failure is logged and swallowed.
	m.Unload(context.Background(), h)
}

func TestLoadUnload_BracketsWithMemorySamples(t *testing.T) {
	obs := &recordingObserver{}
	m := NewManager(WithMemoryObserver(obs))
	m.Register("chunker", func(ctx context.Context) (any, error) {
		return "x", nil
	}, nil)

	h, err := m.Load(context.Background(), "chunker")
	require.NoError(t, err)
	m.Unload(context.Background(), h)

	assert.Equal(t, int64(1), obs.loads.Load())
	assert.Equal(t, int64(1), obs.unloads.Load())
}

func TestLoad_FailedFactoryStillPairsObserver(t *testing.T) {
	obs := &recordingObserver{}
	m := NewManager(WithMemoryObserver(obs))
	m.Register("vision", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, nil)

	_, err := m.Load(context.Background(), "vision")
	require.Error(t, err)
	assert.Equal(t, obs.loads.Load(), obs.unloads.Load())
}
