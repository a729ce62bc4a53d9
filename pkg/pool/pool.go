package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// Factory constructs a component instance.
type Factory func(ctx context.Context) (any, error)

// Cleanup tears an instance down. Called only at pool shutdown.
type Cleanup func(instance any) error

// MemoryObserver receives load/unload notifications for memory attribution.
type MemoryObserver interface {
	RecordComponentLoad(name string)
	RecordComponentUnload(name string)
}

// Stats is a read-only snapshot of pool counters.
type Stats struct {
	Name      string `json:"name"`
	MaxSize   int    `json:"max_size"`
	Created   int64  `json:"created"`
	Acquired  int64  `json:"acquired"`
	Released  int64  `json:"released"`
	Reused    int64  `json:"reused"`
	InUse     int    `json:"in_use"`
	Available int    `json:"available"`
}

// Pool is a bounded cache of reusable component instances. Every live
// instance is either available or in use, never both; in-use count never
// exceeds max size.
type Pool struct {
	name    string
	max     int
	factory Factory
	cleanup Cleanup
	logger  *slog.Logger
	obs     MemoryObserver

	// slots caps concurrent in-use instances at max.
	slots chan struct{}

	mu        sync.Mutex
	available []*core.ComponentHandle
	inUse     map[*core.ComponentHandle]struct{}
	closed    bool

	created  atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	reused   atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithCleanup sets the teardown function run for each instance at Close.
func WithCleanup(cleanup Cleanup) Option {
	return func(p *Pool) {
		p.cleanup = cleanup
	}
}

// WithMemoryObserver brackets instance construction and teardown with
// memory samples.
func WithMemoryObserver(obs MemoryObserver) Option {
	return func(p *Pool) {
		p.obs = obs
	}
}

// New creates a pool for the named component, bounded at maxSize instances.
func New(name string, maxSize int, factory Factory, opts ...Option) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	p := &Pool{
		name:    name,
		max:     maxSize,
		factory: factory,
		logger:  slog.Default(),
		slots:   make(chan struct{}, maxSize),
		inUse:   make(map[*core.ComponentHandle]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the component name this pool serves.
func (p *Pool) Name() string {
	return p.name
}

// Acquire returns a component instance, reusing an available one when
// possible and constructing a new one while under max size. When max size
// instances are in use it blocks until a release or context cancellation.
func (p *Pool) Acquire(ctx context.Context) (*core.ComponentHandle, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, core.ErrPoolClosed
	}

	if n := len(p.available); n > 0 {
		h := p.available[n-1]
		p.available = p.available[:n-1]
		p.inUse[h] = struct{}{}
		p.mu.Unlock()
		p.reused.Add(1)
		p.acquired.Add(1)
		return h, nil
	}
	p.mu.Unlock()

	// Below max size and nothing available: construct outside the lock so a
	// slow factory does not serialize releases.
	if p.obs != nil {
		p.obs.RecordComponentLoad(p.name)
	}
	instance, err := p.factory(ctx)
	if err != nil {
		if p.obs != nil {
			p.obs.RecordComponentUnload(p.name)
		}
		<-p.slots
		return nil, &core.LoadError{Component: p.name, Err: err}
	}

	h := core.NewComponentHandle(p.name, instance)
	p.mu.Lock()
	p.inUse[h] = struct{}{}
	p.mu.Unlock()

	p.created.Add(1)
	p.acquired.Add(1)
	p.logger.Debug("pool instance created", "component", p.name)
	return h, nil
}

// AcquireTimeout is Acquire with an upper bound on the wait. A timeout
// surfaces as a transient core.ErrAcquireTimeout so the stage is retried
// rather than failed.
func (p *Pool) AcquireTimeout(ctx context.Context, d time.Duration) (*core.ComponentHandle, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	h, err := p.Acquire(waitCtx)
	if err == nil {
		return h, nil
	}
	if waitCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return nil, core.Transient(core.ErrAcquireTimeout)
	}
	return nil, err
}

// Release returns an instance to the available set. Instances are never
// destroyed on release; teardown happens only at Close.
func (p *Pool) Release(h *core.ComponentHandle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.inUse[h]; !ok {
		p.mu.Unlock()
		p.logger.Warn("release of handle not in use", "component", p.name)
		return
	}
	delete(p.inUse, h)
	p.available = append(p.available, h)
	p.mu.Unlock()

	p.released.Add(1)
	<-p.slots
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	inUse := len(p.inUse)
	available := len(p.available)
	p.mu.Unlock()

	return Stats{
		Name:      p.name,
		MaxSize:   p.max,
		Created:   p.created.Load(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Reused:    p.reused.Load(),
		InUse:     inUse,
		Available: available,
	}
}

// Close tears down every available instance and marks the pool closed.
// Cleanup failures are logged; the first error is returned after all
// instances are processed. Close should run only after workers drain:
// instances still in use are left to their holders.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	instances := p.available
	p.available = nil
	remaining := len(p.inUse)
	p.mu.Unlock()

	if remaining > 0 {
		p.logger.Warn("closing pool with instances still in use",
			"component", p.name, "in_use", remaining)
	}

	var firstErr error
	for _, h := range instances {
		if p.obs != nil {
			p.obs.RecordComponentUnload(p.name)
		}
		if p.cleanup != nil {
			if err := p.cleanup(h.Instance); err != nil {
				p.logger.Error("pool cleanup failed", "component", p.name, "error", err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
		h.ReleaseRef()
	}
	return firstErr
}

// Set is a collection of pools keyed by component name, shared across the
// orchestrator and admin surface.
type Set struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewSet creates an empty pool set.
func NewSet() *Set {
	return &Set{pools: make(map[string]*Pool)}
}

// Add registers a pool, replacing any previous pool for the same name.
func (s *Set) Add(p *Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pools[p.Name()] = p
}

// Get returns the pool for a component name.
func (s *Set) Get(name string) (*Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[name]
	return p, ok
}

// Stats returns counters for every pool in the set.
func (s *Set) Stats() []Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Stats, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p.Stats())
	}
	return out
}

// Close closes every pool in the set, returning the first error.
func (s *Set) Close(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var firstErr error
	for _, p := range s.pools {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
