package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/justpipe/justpipe/internal/domain"
)

// ObserverMeta is the framework metadata passed to every lifecycle hook:
// which pipeline ran, under which run id, and when it started. Ported from
// original_source's observability/__init__.py:ObserverMeta.
type ObserverMeta struct {
	PipelineName string
	RunID        string
	StartedAt    time.Time
}

// Observer receives a run's full lifecycle: OnPipelineStart once before any
// step is scheduled, OnEvent for every published event in sequence-number
// order, then exactly one of OnPipelineEnd/OnPipelineError once the run
// settles. state and runCtx are the same pointers the run was given; an
// observer reading them from OnPipelineEnd/OnPipelineError sees their final
// values. None of the four hooks may block the run for long; slow
// observers should hand work off to their own goroutine. A panic inside a
// hook is not recovered here — the orchestrator's run loop owns the one
// recover() boundary spec.md §7 calls for. Grounded on
// original_source/justpipe/observability/__init__.py:24-104
// (ObserverProtocol / the Observer mixin's four async hooks).
type Observer interface {
	OnPipelineStart(state, runCtx any, meta ObserverMeta)
	OnEvent(ev *domain.Event)
	OnPipelineEnd(state, runCtx any, meta ObserverMeta, duration time.Duration)
	OnPipelineError(state, runCtx any, meta ObserverMeta, err error)
}

// ObserverFunc adapts a plain function to the Observer interface for
// callers who only care about the event stream; the other three hooks are
// no-ops, playing the role the reference implementation's Observer mixin
// base class plays with its async no-op defaults.
type ObserverFunc func(ev *domain.Event)

// OnPipelineStart implements Observer as a no-op.
func (f ObserverFunc) OnPipelineStart(state, runCtx any, meta ObserverMeta) {}

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev *domain.Event) { f(ev) }

// OnPipelineEnd implements Observer as a no-op.
func (f ObserverFunc) OnPipelineEnd(state, runCtx any, meta ObserverMeta, duration time.Duration) {}

// OnPipelineError implements Observer as a no-op.
func (f ObserverFunc) OnPipelineError(state, runCtx any, meta ObserverMeta, err error) {}

// ErrNilObserver is returned by ValidateObserver when the supplied value is
// not usable as an Observer.
var ErrNilObserver = errors.New("justpipe: observer is nil")

// ValidateObserver checks an observer's shape at registration time rather
// than waiting for the first publish to panic, the same "fail at
// Register(), not at first use" discipline the teacher's plugin registry
// applies to PluginMetadata.Validate. Unlike the reference implementation's
// validate_observer, which inspects an untyped object for the four
// on_pipeline_start/on_event/on_pipeline_end/on_pipeline_error hooks at
// runtime, Go's compiler already enforces that shape on anything the
// caller can name as an Observer — a type missing one of the four hooks
// simply does not satisfy the interface and fails to compile. The one
// remaining runtime gap this closes is a nil Observer (or nil ObserverFunc)
// slipping through, which would otherwise panic on first dispatch.
func ValidateObserver(o Observer) error {
	if o == nil {
		return ErrNilObserver
	}
	if fn, ok := o.(ObserverFunc); ok && fn == nil {
		return ErrNilObserver
	}
	return nil
}

// RegisterObserver validates o and appends it to *observers, returning a
// descriptive error instead of registering a broken observer.
func RegisterObserver(observers *[]Observer, o Observer) error {
	if err := ValidateObserver(o); err != nil {
		return fmt.Errorf("register observer: %w", err)
	}
	*observers = append(*observers, o)
	return nil
}

// CastObservers recovers the typed Observer slice from the untyped values
// graph.Registry stores (that package stays leaf-level and knows nothing
// about the Observer interface). Every element must already satisfy the
// full four-hook Observer contract — the type assertion below is itself
// the "absent hooks cause setup to fail" check spec.md §4.9 calls for — so
// a mismatch here means a framework bug, not a user error.
func CastObservers(raw []any) ([]Observer, error) {
	out := make([]Observer, 0, len(raw))
	for i, r := range raw {
		o, ok := r.(Observer)
		if !ok {
			return nil, fmt.Errorf("justpipe: registered observer at index %d does not implement telemetry.Observer's onPipelineStart/onEvent/onPipelineEnd/onPipelineError contract (got %T)", i, r)
		}
		if err := ValidateObserver(o); err != nil {
			return nil, fmt.Errorf("justpipe: registered observer at index %d: %w", i, err)
		}
		out = append(out, o)
	}
	return out, nil
}
