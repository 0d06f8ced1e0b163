// Package justpipe runs declarative DAG pipelines of user-supplied steps
// under structured concurrency: register steps, lifecycle hooks, and
// observability hooks onto a Pipeline, then Run it against a State/Context
// pair and drain its event stream. Internally it composes internal/graph
// (registry + validation), internal/barrier and internal/scheduler (join
// and fan-out bookkeeping), internal/kernel (the bounded, structured
// concurrency runtime), internal/invoker (per-step execution), and
// internal/telemetry (events, metrics, tracing) through
// internal/orchestrator's run loop — this package's entire job is
// presenting that machinery as a small, generic, typed surface.
package justpipe

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

var validate = validator.New()

// Pipeline is a frozen-on-first-Run definition of steps, hooks, and
// middleware, generic over the caller's State type S and Context type C.
// A Pipeline is built once and may be Run any number of times (or nested
// as a sub-pipeline via RunSub) — Run freezes the underlying registry the
// first time it is called.
type Pipeline[S, C any] struct {
	name string
	reg  *graph.Registry
}

// PipelineOption configures pipeline-wide behavior at construction time.
type PipelineOption func(*graph.Registry)

type pipelineNameCheck struct {
	Name string `validate:"required"`
}

// New builds an empty, unfrozen pipeline named name. Steps are added to it
// with AddStep/AddMap/AddMapWorker/AddSwitch/AddSub before the first Run.
func New[S, C any](name string, opts ...PipelineOption) (*Pipeline[S, C], error) {
	if err := validate.Struct(pipelineNameCheck{Name: name}); err != nil {
		return nil, fmt.Errorf("justpipe: %w", err)
	}
	p := &Pipeline[S, C]{name: name, reg: graph.New()}
	for _, opt := range opts {
		opt(p.reg)
	}
	return p, nil
}

type stepConfigCheck struct {
	MaxAttempts       int   `validate:"gte=0"`
	MapMaxConcurrency int   `validate:"gte=0"`
	Timeout           int64 `validate:"gte=0"`
	BarrierTimeout    int64 `validate:"gte=0"`
}

func validateStep(step *domain.Step) error {
	check := stepConfigCheck{
		MaxAttempts:       step.Retry.MaxAttempts,
		MapMaxConcurrency: step.MapMaxConcurrency,
		Timeout:           int64(step.Timeout),
		BarrierTimeout:    int64(step.BarrierTimeout),
	}
	if err := validate.Struct(check); err != nil {
		return fmt.Errorf("justpipe: invalid configuration for step %q: %w", step.Name, err)
	}
	return nil
}

// AddStep registers an ordinary PLAIN step.
func (p *Pipeline[S, C]) AddStep(name string, fn PlainFunc[S, C], opts ...StepOption) error {
	step := &domain.Step{Name: name, Kind: domain.KindPlain, Fn: wrapPlainFn(fn)}
	for _, opt := range opts {
		opt(step)
	}
	if err := validateStep(step); err != nil {
		return err
	}
	return p.reg.AddStep(step)
}

// AddMap registers a MAP step: fn computes the item collection (typically
// by returning MapOver(worker, items)), and worker — registered separately
// via AddMapWorker — runs once per item. worker must not declare its own
// static successors (the "worker trap"); the MAP step's own WithSuccessors
// fires once every worker in a batch has completed.
func (p *Pipeline[S, C]) AddMap(name string, worker string, fn PlainFunc[S, C], opts ...StepOption) error {
	step := &domain.Step{Name: name, Kind: domain.KindMap, MapEach: worker, Fn: wrapPlainFn(fn)}
	for _, opt := range opts {
		opt(step)
	}
	if err := validateStep(step); err != nil {
		return err
	}
	return p.reg.AddStep(step)
}

// AddMapWorker registers the worker step a MAP step fans out to, one
// invocation per item. It is a standalone function (not a Pipeline method)
// because Go methods cannot introduce type parameters beyond their
// receiver's — Item is bound here, fresh per call.
func AddMapWorker[S, C, Item any](p *Pipeline[S, C], name string, fn MapWorkerFunc[S, C, Item], opts ...StepOption) error {
	step := &domain.Step{Name: name, Kind: domain.KindPlain, Fn: wrapMapWorkerFn(fn)}
	for _, opt := range opts {
		opt(step)
	}
	if err := validateStep(step); err != nil {
		return err
	}
	return p.reg.AddStep(step)
}

// AddSwitch registers a SWITCH step: fn resolves a routing key, looked up
// in routes (key -> target step name); an unrecognized key, or a nil fn,
// falls back to defaultTarget. An empty resolved target (defaultTarget
// also unset) stops this branch — no successor fires.
func (p *Pipeline[S, C]) AddSwitch(name string, fn SwitchFunc[S, C], routes map[string]string, defaultTarget string) error {
	step := &domain.Step{
		Name: name, Kind: domain.KindSwitch,
		SwitchRoutes:  routes,
		SwitchDefault: defaultTarget,
	}
	if fn != nil {
		step.SwitchDynamic = wrapSwitchFn(fn)
	}
	return p.reg.AddStep(step)
}

// AddSub registers a SUB step: fn computes which nested pipeline to run
// and its initial state (by returning RunSub(sub, initialState)) and the
// nested run's events are forwarded into the parent stream, rewritten
// with this step's name as an owner prefix.
func (p *Pipeline[S, C]) AddSub(name string, fn PlainFunc[S, C], opts ...StepOption) error {
	step := &domain.Step{Name: name, Kind: domain.KindSub, Fn: wrapPlainFn(fn)}
	for _, opt := range opts {
		opt(step)
	}
	if err := validateStep(step); err != nil {
		return err
	}
	return p.reg.AddStep(step)
}

// AddStream registers a PLAIN step that yields intermediate tokens (each
// published as a TOKEN event) before resolving to a terminal Outcome.
// Standalone for the same reason as AddMapWorker: T is fresh per call.
func AddStream[S, C, T any](p *Pipeline[S, C], name string, fn func(ctx context.Context, state *S, rc *C) (*Stream[T], error), opts ...StepOption) error {
	step := &domain.Step{
		Name: name, Kind: domain.KindPlain,
		Stream: func(call *domain.Invocation) (*domain.Stream, error) {
			state, _ := call.State.(*S)
			rc, _ := call.RunCtx.(*C)
			ctx := withStepName(call.Ctx, call.StepName)
			s, err := fn(ctx, state, rc)
			if err != nil {
				return nil, err
			}
			return s.toDomain(), nil
		},
	}
	for _, opt := range opts {
		opt(step)
	}
	if err := validateStep(step); err != nil {
		return err
	}
	return p.reg.AddStep(step)
}

// OnStartup registers a hook run once before any step, in registration
// order; a startup hook's own failure aborts the run before it schedules
// anything (unlike shutdown, which is always best-effort).
func (p *Pipeline[S, C]) OnStartup(fn PlainFunc[S, C]) error {
	return p.reg.AddStartupHook(wrapPlainFn(fn))
}

// OnShutdown registers a hook run once after the run settles, in
// registration order, regardless of whether earlier shutdown hooks (or the
// run itself) failed; a shutdown hook's own error is recorded but never
// flips a successful run to failed.
func (p *Pipeline[S, C]) OnShutdown(fn PlainFunc[S, C]) error {
	return p.reg.AddShutdownHook(wrapPlainFn(fn))
}

// OnError installs the pipeline-wide error hook consulted whenever a
// failing step has no local WithErrorHandler of its own.
func (p *Pipeline[S, C]) OnError(fn ErrorFunc[S, C]) error {
	return p.reg.SetErrorHook(wrapErrorFn(fn))
}

// Use appends mw to the middleware chain applied to every PLAIN, MAP, and
// SUB step invocation, outermost-registered running first. Steps registered
// with AddStream are not wrapped.
func (p *Pipeline[S, C]) Use(mw Middleware[S, C]) error {
	return p.reg.AddMiddleware(adaptMiddleware(mw))
}

// OnEvent registers a synchronous pre-publish event hook.
func (p *Pipeline[S, C]) OnEvent(h EventHook) error {
	return p.reg.AddEventHook(h)
}

// AddObserver registers an Observer: its OnPipelineStart fires once before
// any step runs, OnEvent fires for every event this pipeline's runs
// publish in sequence order, and exactly one of OnPipelineEnd/
// OnPipelineError fires once the run settles.
func (p *Pipeline[S, C]) AddObserver(o Observer) error {
	return p.reg.AddObserver(o)
}
