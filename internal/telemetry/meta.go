// Package telemetry owns JustPipe's observable surface: the event
// publication pipeline (prepare -> event hooks -> observer dispatch),
// OTel-backed metrics and tracing, the three Meta scopes, and the default
// structured-logging Observer. None of it is required to run a pipeline —
// a Pipeline with no observers registered still runs correctly — but it is
// the package every run's visibility flows through.
package telemetry

import (
	"context"
	"sort"
	"sync"
)

// ScopedMeta is the mutable half of Meta: run-scope (one instance shared by
// an entire run) and step-scope (a fresh instance per invocation, so
// concurrent MAP workers never cross-contaminate each other's metrics).
// Ported from original_source's meta.py:_ScopedMeta.
type ScopedMeta struct {
	mu       sync.Mutex
	data     map[string]any
	tags     map[string]struct{}
	metrics  map[string][]float64
	counters map[string]float64
}

// NewScopedMeta returns an empty scope ready for concurrent use.
func NewScopedMeta() *ScopedMeta {
	return &ScopedMeta{}
}

// Set stores an arbitrary key/value pair on the scope.
func (m *ScopedMeta) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]any)
	}
	m.data[key] = value
}

// Get reads a previously Set value, returning def when absent.
func (m *ScopedMeta) Get(key string, def any) any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		return v
	}
	return def
}

// AddTag records a label on the scope. Tags are deduplicated.
func (m *ScopedMeta) AddTag(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tags == nil {
		m.tags = make(map[string]struct{})
	}
	m.tags[tag] = struct{}{}
}

// RecordMetric appends a sample to a named metric series.
func (m *ScopedMeta) RecordMetric(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metrics == nil {
		m.metrics = make(map[string][]float64)
	}
	m.metrics[name] = append(m.metrics[name], value)
}

// Increment adds amount to a named running counter, starting at zero.
func (m *ScopedMeta) Increment(name string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]float64)
	}
	m.counters[name] += amount
}

// Snapshot returns a point-in-time copy suitable for attaching to an
// Event's Meta field. Empty sections are omitted, matching
// meta.py:_ScopedMeta._snapshot.
func (m *ScopedMeta) Snapshot() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := make(map[string]any)
	if len(m.data) > 0 {
		data := make(map[string]any, len(m.data))
		for k, v := range m.data {
			data[k] = v
		}
		snap["data"] = data
	}
	if len(m.tags) > 0 {
		tags := make([]string, 0, len(m.tags))
		for t := range m.tags {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		snap["tags"] = tags
	}
	if len(m.metrics) > 0 {
		metrics := make(map[string][]float64, len(m.metrics))
		for k, v := range m.metrics {
			cp := make([]float64, len(v))
			copy(cp, v)
			metrics[k] = cp
		}
		snap["metrics"] = metrics
	}
	if len(m.counters) > 0 {
		counters := make(map[string]float64, len(m.counters))
		for k, v := range m.counters {
			counters[k] = v
		}
		snap["counters"] = counters
	}
	if len(snap) == 0 {
		return nil
	}
	return snap
}

// PipelineMeta is the read-only pipeline-definition metadata, copied once
// at the start of each run and never mutated during it.
type PipelineMeta struct {
	data map[string]any
}

// NewPipelineMeta copies data into an immutable pipeline-scope snapshot.
func NewPipelineMeta(data map[string]any) *PipelineMeta {
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return &PipelineMeta{data: cp}
}

// Get reads a pipeline-definition metadata value, returning def when absent.
func (m *PipelineMeta) Get(key string, def any) any {
	if m == nil {
		return def
	}
	if v, ok := m.data[key]; ok {
		return v
	}
	return def
}

// Meta bundles the three scopes visible to step code (spec.md §4.10):
// Pipeline (read-only), Run (one shared instance for the whole run), and
// Step (replaced with a fresh ScopedMeta for every single invocation).
type Meta struct {
	Pipeline *PipelineMeta
	Run      *ScopedMeta
	Step     *ScopedMeta
}

// ForInvocation returns a copy of m with a brand-new Step scope, leaving
// Pipeline and Run shared. The orchestrator's runInvocation calls this once
// per step and MAP-worker invocation so concurrent invocations never see
// each other's step-scoped data.
func (m *Meta) ForInvocation() *Meta {
	if m == nil {
		return nil
	}
	return &Meta{Pipeline: m.Pipeline, Run: m.Run, Step: NewScopedMeta()}
}

// stepMetaSnapshot returns ctx's step-scoped Meta snapshot, or nil if ctx
// carries no Meta (a framework-raised failure with no active invocation
// never ran step code, so there is nothing to snapshot).
func stepMetaSnapshot(ctx context.Context) map[string]any {
	m, ok := FromContext(ctx)
	if !ok || m.Step == nil {
		return nil
	}
	return m.Step.Snapshot()
}

type metaContextKey struct{}

// WithMeta attaches m to ctx so it can be retrieved inside step code via
// FromContext. JustPipe threads Meta through context.Context rather than
// reflecting over the user's Context struct (the reference implementation's
// detect_and_init_meta approach) — an explicit, typed context value is the
// idiomatic Go equivalent of the reference's contextvar-backed proxy.
func WithMeta(ctx context.Context, m *Meta) context.Context {
	return context.WithValue(ctx, metaContextKey{}, m)
}

// FromContext retrieves the Meta attached by WithMeta, if any.
func FromContext(ctx context.Context) (*Meta, bool) {
	m, ok := ctx.Value(metaContextKey{}).(*Meta)
	return m, ok && m != nil
}
