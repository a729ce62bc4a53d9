package lifecycle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// Factory constructs a component instance.
type Factory func(ctx context.Context) (any, error)

// Cleanup tears an instance down.
type Cleanup func(instance any) error

// MemoryObserver receives load/unload notifications for memory attribution.
type MemoryObserver interface {
	RecordComponentLoad(name string)
	RecordComponentUnload(name string)
}

type definition struct {
	factory Factory
	cleanup Cleanup
}

// Manager defers construction of registered components until Load and
// releases them on Unload.
type Manager struct {
	mu     sync.RWMutex
	defs   map[string]definition
	obs    MemoryObserver
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMemoryObserver brackets Load and Unload with memory samples.
func WithMemoryObserver(obs MemoryObserver) Option {
	return func(m *Manager) {
		m.obs = obs
	}
}

// NewManager creates an empty lifecycle manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		defs:   make(map[string]definition),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register makes a component loadable. Registration is idempotent:
// re-registering at startup replaces the previous definition.
func (m *Manager) Register(name string, factory Factory, cleanup Cleanup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.defs[name]; exists {
		m.logger.Debug("replacing component definition", "component", name)
	}
	m.defs[name] = definition{factory: factory, cleanup: cleanup}
}

// Registered reports whether a component definition exists.
func (m *Manager) Registered(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.defs[name]
	return ok
}

// Names returns the registered component names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.defs))
	for name := range m.defs {
		names = append(names, name)
	}
	return names
}

// Load constructs the named component. The construction is bracketed with a
// memory sample so the tracker can attribute the component's footprint.
// A factory failure surfaces as a core.LoadError.
func (m *Manager) Load(ctx context.Context, name string) (*core.ComponentHandle, error) {
	m.mu.RLock()
	def, ok := m.defs[name]
	m.mu.RUnlock()
	if !ok {
		return nil, core.ErrComponentNotRegistered
	}

	if m.obs != nil {
		m.obs.RecordComponentLoad(name)
	}

	instance, err := def.factory(ctx)
	if err != nil {
		if m.obs != nil {
			m.obs.RecordComponentUnload(name)
		}
		return nil, &core.LoadError{Component: name, Err: err}
	}

	m.logger.Debug("component loaded", "component", name)
	return core.NewComponentHandle(name, instance), nil
}

// Unload tears a component down. Cleanup failures are logged but never
// propagated: by the time Unload runs, the stage's output is already durably
// checkpointed, so a failed teardown must not abort the pipeline.
func (m *Manager) Unload(ctx context.Context, h *core.ComponentHandle) {
	if h == nil {
		return
	}

	if m.obs != nil {
		m.obs.RecordComponentUnload(h.Name)
	}

	m.mu.RLock()
	def, ok := m.defs[h.Name]
	m.mu.RUnlock()

	if ok && def.cleanup != nil {
		if err := def.cleanup(h.Instance); err != nil {
			m.logger.Warn("component cleanup failed", "component", h.Name, "error", err)
		}
	}
	h.ReleaseRef()
	m.logger.Debug("component unloaded", "component", h.Name)
}
