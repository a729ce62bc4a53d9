package memtrack

import (
	"log/slog"
	"sync"

	"github.com/jdziat/doc-pipeline/pkg/core"
)

// criticalFactor scales the warning threshold up to the critical one.
const criticalFactor = 1.1

// Sampler takes one instantaneous memory reading.
type Sampler func() (core.MemorySample, error)

// Metrics is a point-in-time view of tracker state.
type Metrics struct {
	Current         core.MemorySample   `json:"current"`
	StageDeltas     map[string]int64    `json:"stage_deltas"`     // RSS bytes, end minus start
	ComponentDeltas map[string]int64    `json:"component_deltas"` // RSS bytes, unload minus load
	History         []core.MemorySample `json:"history"`
}

// Tracker records memory samples at stage and component boundaries. It is
// safe for concurrent use; the ring buffer is a single shared append
// structure written by every worker goroutine.
type Tracker struct {
	mu sync.Mutex

	sampler Sampler
	logger  *slog.Logger

	// Ring buffer of recent samples, oldest evicted first.
	history []core.MemorySample
	start   int
	count   int

	stageStart      map[string]core.MemorySample
	componentStart  map[string]core.MemorySample
	stageDeltas     map[string]int64
	componentDeltas map[string]int64

	warnBytes uint64
	warnings  int
	criticals int

	onAlert []func(core.MemorySample, bool)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithSampler replaces the process sampler, mainly for tests.
func WithSampler(s Sampler) Option {
	return func(t *Tracker) {
		if s != nil {
			t.sampler = s
		}
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithHistorySize bounds the sample ring. Default is 256.
func WithHistorySize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.history = make([]core.MemorySample, n)
		}
	}
}

// WithWarnThreshold sets the RSS warning threshold in bytes. Crossing it
// logs a warning; crossing 1.1x logs a critical alert. Zero disables
// alerting.
func WithWarnThreshold(bytes uint64) Option {
	return func(t *Tracker) {
		t.warnBytes = bytes
	}
}

// WithAlertFunc registers a callback invoked on each alert, after logging.
func WithAlertFunc(fn func(sample core.MemorySample, critical bool)) Option {
	return func(t *Tracker) {
		if fn != nil {
			t.onAlert = append(t.onAlert, fn)
		}
	}
}

// New creates a tracker sampling the current process by default.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		sampler:         ProcessSampler(),
		logger:          slog.Default(),
		history:         make([]core.MemorySample, 256),
		stageStart:      make(map[string]core.MemorySample),
		componentStart:  make(map[string]core.MemorySample),
		stageDeltas:     make(map[string]int64),
		componentDeltas: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnAlert registers an additional alert callback after construction. The
// orchestrator uses this to surface alerts on its event stream.
func (t *Tracker) OnAlert(fn func(sample core.MemorySample, critical bool)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onAlert = append(t.onAlert, fn)
	t.mu.Unlock()
}

// RecordStageStart samples at the start of a stage.
func (t *Tracker) RecordStageStart(stage string) {
	s, ok := t.sample("stage:" + stage)
	if !ok {
		return
	}
	t.mu.Lock()
	t.stageStart[stage] = s
	t.mu.Unlock()
}

// RecordStageEnd samples at the end of a stage and records the delta against
// the paired start sample.
func (t *Tracker) RecordStageEnd(stage string) {
	s, ok := t.sample("stage:" + stage + ":end")
	if !ok {
		return
	}
	t.mu.Lock()
	if start, found := t.stageStart[stage]; found {
		t.stageDeltas[stage] = int64(s.RSS) - int64(start.RSS)
		delete(t.stageStart, stage)
	}
	t.mu.Unlock()
}

// RecordComponentLoad samples before a component is constructed.
func (t *Tracker) RecordComponentLoad(name string) {
	s, ok := t.sample("component:" + name)
	if !ok {
		return
	}
	t.mu.Lock()
	t.componentStart[name] = s
	t.mu.Unlock()
}

// RecordComponentUnload samples before a component is torn down and records
// the delta against the paired load sample, approximating the component's
// resident footprint while loaded.
func (t *Tracker) RecordComponentUnload(name string) {
	s, ok := t.sample("component:" + name + ":unload")
	if !ok {
		return
	}
	t.mu.Lock()
	if start, found := t.componentStart[name]; found {
		t.componentDeltas[name] = int64(s.RSS) - int64(start.RSS)
		delete(t.componentStart, name)
	}
	t.mu.Unlock()
}

// Snapshot takes an immediate sample without pairing it to any boundary.
func (t *Tracker) Snapshot(tag string) (core.MemorySample, error) {
	s, err := t.sampler()
	if err != nil {
		return core.MemorySample{}, err
	}
	s.Tag = tag
	t.append(s)
	t.checkThreshold(s)
	return s, nil
}

// Metrics returns the current sample plus per-stage and per-component deltas
// and the bounded history, oldest first.
func (t *Tracker) Metrics() Metrics {
	current, _ := t.Snapshot("metrics")

	t.mu.Lock()
	defer t.mu.Unlock()

	stage := make(map[string]int64, len(t.stageDeltas))
	for k, v := range t.stageDeltas {
		stage[k] = v
	}
	component := make(map[string]int64, len(t.componentDeltas))
	for k, v := range t.componentDeltas {
		component[k] = v
	}

	history := make([]core.MemorySample, 0, t.count)
	for i := 0; i < t.count; i++ {
		history = append(history, t.history[(t.start+i)%len(t.history)])
	}

	return Metrics{
		Current:         current,
		StageDeltas:     stage,
		ComponentDeltas: component,
		History:         history,
	}
}

// AlertCounts returns how many warning and critical alerts fired.
func (t *Tracker) AlertCounts() (warnings, criticals int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warnings, t.criticals
}

func (t *Tracker) sample(tag string) (core.MemorySample, bool) {
	s, err := t.sampler()
	if err != nil {
		t.logger.Warn("memory sample failed", "tag", tag, "error", err)
		return core.MemorySample{}, false
	}
	s.Tag = tag
	t.append(s)
	t.checkThreshold(s)
	return s, true
}

func (t *Tracker) append(s core.MemorySample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return
	}
	idx := (t.start + t.count) % len(t.history)
	t.history[idx] = s
	if t.count < len(t.history) {
		t.count++
	} else {
		t.start = (t.start + 1) % len(t.history)
	}
}

// checkThreshold logs soft alerts. Alerts never block or abort processing.
func (t *Tracker) checkThreshold(s core.MemorySample) {
	if t.warnBytes == 0 {
		return
	}
	critical := float64(s.RSS) >= float64(t.warnBytes)*criticalFactor
	warning := s.RSS >= t.warnBytes

	if critical {
		t.logger.Error("memory usage critical", "rss", s.RSS, "threshold", t.warnBytes, "tag", s.Tag)
	} else if warning {
		t.logger.Warn("memory usage high", "rss", s.RSS, "threshold", t.warnBytes, "tag", s.Tag)
	} else {
		return
	}

	t.mu.Lock()
	if critical {
		t.criticals++
	} else {
		t.warnings++
	}
	callbacks := make([]func(core.MemorySample, bool), len(t.onAlert))
	copy(callbacks, t.onAlert)
	t.mu.Unlock()

	for _, fn := range callbacks {
		fn(s, critical)
	}
}
