// Package graph compiles a frozen set of step definitions into a validated
// execution plan: the registry accumulates steps/hooks/middleware exactly
// like the teacher's config loader accumulates steps and validations, then
// Freeze hands the result to Validate and Compile.
package graph

import (
	"fmt"
	"sort"

	"github.com/justpipe/justpipe/internal/domain"
)

// Registry accumulates step definitions, lifecycle hooks, middleware, event
// hooks, and observers during pipeline construction. It is mutable only
// before Freeze; every Add*/Set* call past that point returns an error,
// mirroring internal/config's parse-then-reject pattern (the teacher validates and then never mutates a *Config again).
type Registry struct {
	frozen bool

	steps   map[string]*domain.Step
	order   []string // registration order, for deterministic iteration

	startupHooks  []domain.StepFunc
	shutdownHooks []domain.StepFunc
	onError       domain.StepFunc

	middleware []domain.Middleware
	eventHooks []EventHook
	observers  []any // concrete type validated by the telemetry package
}

// EventHook is invoked synchronously whenever an event is about to be
// published; it never blocks the bounded event queue itself.
type EventHook func(*domain.Event)

// New returns an empty, unfrozen registry.
func New() *Registry {
	return &Registry{steps: make(map[string]*domain.Step)}
}

// AddStep registers a step definition. Returns an error if the registry is
// frozen or the name is already taken.
func (r *Registry) AddStep(step *domain.Step) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot add step %q", step.Name)
	}
	if step.Name == "" {
		return fmt.Errorf("justpipe: step name must not be empty")
	}
	if _, exists := r.steps[step.Name]; exists {
		return fmt.Errorf("justpipe: duplicate step name %q", step.Name)
	}
	r.steps[step.Name] = step
	r.order = append(r.order, step.Name)
	return nil
}

// AddStartupHook registers a hook run once before any step, in registration
// order, prior to the first STEP_START.
func (r *Registry) AddStartupHook(fn domain.StepFunc) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot add startup hook")
	}
	r.startupHooks = append(r.startupHooks, fn)
	return nil
}

// AddShutdownHook registers a hook run once after the run settles (success
// or failure), in registration order. A shutdown hook's own error is
// recorded as SHUTDOWN/ReasonShutdownHookError and never flips a successful
// run to failed (spec.md §7).
func (r *Registry) AddShutdownHook(fn domain.StepFunc) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot add shutdown hook")
	}
	r.shutdownHooks = append(r.shutdownHooks, fn)
	return nil
}

// SetErrorHook installs the pipeline-wide error handler consulted when a
// step has no local ErrorHandler of its own.
func (r *Registry) SetErrorHook(fn domain.StepFunc) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot set error hook")
	}
	r.onError = fn
	return nil
}

// AddMiddleware appends a middleware to the chain applied (outermost first)
// to every step invocation that runs through a step's Fn; steps that set
// Stream instead are not wrapped.
func (r *Registry) AddMiddleware(m domain.Middleware) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot add middleware")
	}
	r.middleware = append(r.middleware, m)
	return nil
}

// AddEventHook appends a synchronous pre-publish event observer.
func (r *Registry) AddEventHook(h EventHook) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot add event hook")
	}
	r.eventHooks = append(r.eventHooks, h)
	return nil
}

// AddObserver registers an observer instance; shape validation happens in
// the telemetry package (CastObservers) when a run starts, so this package
// stays free of the observer interface definition.
func (r *Registry) AddObserver(o any) error {
	if r.frozen {
		return fmt.Errorf("justpipe: registry frozen, cannot add observer")
	}
	r.observers = append(r.observers, o)
	return nil
}

// Freeze locks the registry against further mutation and returns it for
// chaining into Validate/Compile.
func (r *Registry) Freeze() *Registry {
	r.frozen = true
	return r
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool { return r.frozen }

// Step looks up a registered step by name.
func (r *Registry) Step(name string) (*domain.Step, bool) {
	s, ok := r.steps[name]
	return s, ok
}

// Steps returns all registered steps in registration order.
func (r *Registry) Steps() []*domain.Step {
	out := make([]*domain.Step, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.steps[name])
	}
	return out
}

// StepNames returns all registered step names, sorted for deterministic
// error messages and suggestion output.
func (r *Registry) StepNames() []string {
	out := make([]string, 0, len(r.steps))
	for name := range r.steps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// StartupHooks returns the registered startup hooks in registration order.
func (r *Registry) StartupHooks() []domain.StepFunc { return r.startupHooks }

// ShutdownHooks returns the registered shutdown hooks in registration order.
func (r *Registry) ShutdownHooks() []domain.StepFunc { return r.shutdownHooks }

// OnError returns the pipeline-wide error hook, or nil if none was set.
func (r *Registry) OnError() domain.StepFunc { return r.onError }

// MiddlewareChain wraps fn with every registered middleware, outermost
// (first-registered) applied last so it executes first on the way in.
func (r *Registry) MiddlewareChain(fn domain.StepFunc) domain.StepFunc {
	wrapped := fn
	for i := len(r.middleware) - 1; i >= 0; i-- {
		wrapped = r.middleware[i](wrapped)
	}
	return wrapped
}

// EventHooks returns the registered pre-publish event hooks.
func (r *Registry) EventHooks() []EventHook { return r.eventHooks }

// Observers returns the registered observer instances, untyped.
func (r *Registry) Observers() []any { return r.observers }
