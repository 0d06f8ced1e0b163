package justpipe

import (
	"context"
	"time"

	"github.com/justpipe/justpipe/internal/domain"
)

// PlainFunc is an ordinary step's shape: read State and Context, do work,
// return what happens next. Also the shape expected by AddMap (to compute
// the item collection), AddSub (to compute the nested pipeline + its
// initial state, wrapped in RunSub), OnStartup, and OnShutdown.
type PlainFunc[S, C any] func(ctx context.Context, state *S, rc *C) (Outcome, error)

// ErrorFunc is a local or pipeline-wide error handler's shape: given the
// failure that occurred, decide how to continue.
type ErrorFunc[S, C any] func(ctx context.Context, err error, state *S, rc *C, stepName string) (Outcome, error)

// SwitchFunc resolves a routing key for a SWITCH step; the key is looked
// up in the routes table passed to AddSwitch, falling back to that call's
// default target on an unrecognized key.
type SwitchFunc[S, C any] func(ctx context.Context, state *S, rc *C) (string, error)

// MapWorkerFunc is the shape of one MAP worker invocation: it receives the
// single item it was fanned out for, alongside State and Context.
type MapWorkerFunc[S, C, Item any] func(ctx context.Context, item Item, state *S, rc *C) (Outcome, error)

// Stream is a pull-based iterator a step can return instead of settling
// immediately: every call prior to done publishes token as a TOKEN event,
// and the call that reports done carries the step's terminal Outcome.
type Stream[T any] struct {
	next func(ctx context.Context) (token T, outcome Outcome, done bool, err error)
}

// NewStream builds a Stream from a pull function, called repeatedly until
// it reports done or returns an error.
func NewStream[T any](next func(ctx context.Context) (T, Outcome, bool, error)) *Stream[T] {
	return &Stream[T]{next: next}
}

func (s *Stream[T]) toDomain() *domain.Stream {
	return domain.NewStream(func(ctx context.Context) (any, domain.Outcome, bool, error) {
		token, outcome, done, err := s.next(ctx)
		return token, outcome.raw, done, err
	})
}

type stepNameKey struct{}

func withStepName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, stepNameKey{}, name)
}

// StepNameFromContext returns the name of the step currently executing.
// JustPipe threads this through context.Context rather than adding it as
// an explicit parameter to every function shape, matching how ctx already
// carries cancellation and deadlines.
func StepNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(stepNameKey{}).(string)
	return name, ok
}

// StepOption configures one step's optional behavior at registration time.
type StepOption func(*domain.Step)

// WithTimeout bounds a single invocation; exceeding it fails the
// invocation with an invoker.TimeoutError.
func WithTimeout(d time.Duration) StepOption {
	return func(s *domain.Step) { s.Timeout = d }
}

// WithRetry caps the total number of attempts (the first run included)
// that Retry() can drive this step to before the engine converts the loop
// into a terminal STEP_ERROR whose message reports the exceeded limit.
func WithRetry(maxAttempts int) StepOption {
	return func(s *domain.Step) { s.Retry = domain.RetryPolicy{MaxAttempts: maxAttempts} }
}

// WithBarrierTimeout bounds how long this step, once it has more than one
// parent, waits for the remaining parents before the barrier is declared
// timed out.
func WithBarrierTimeout(d time.Duration) StepOption {
	return func(s *domain.Step) { s.BarrierTimeout = d }
}

// WithAnyBarrier switches this step's join semantics from the default
// ALL (every parent must complete) to ANY (the first parent completion
// releases it; no barrier timeout watcher is ever scheduled for it).
func WithAnyBarrier() StepOption {
	return func(s *domain.Step) { s.BarrierType = domain.BarrierAny }
}

// WithMapMaxConcurrency sets this MAP step's default worker concurrency
// cap, used whenever a MapOver call doesn't override it with its own
// WithMapConcurrency.
func WithMapMaxConcurrency(n int) StepOption {
	return func(s *domain.Step) { s.MapMaxConcurrency = n }
}

// WithSuccessors declares the static targets this step fires on its
// default (no-directive) path, i.e. when it returns a zero Outcome or one
// built without Next/Stop/Skip.
func WithSuccessors(names ...string) StepOption {
	return func(s *domain.Step) { s.To = append(s.To, names...) }
}

// WithErrorHandler installs a local error handler for this step, taking
// precedence over the pipeline's global OnError hook when this step fails.
func WithErrorHandler[S, C any](fn ErrorFunc[S, C]) StepOption {
	return func(s *domain.Step) { s.ErrorHandler = wrapErrorFn(fn) }
}

func wrapPlainFn[S, C any](fn PlainFunc[S, C]) domain.StepFunc {
	return func(call *domain.Invocation) (domain.Outcome, error) {
		state, _ := call.State.(*S)
		rc, _ := call.RunCtx.(*C)
		ctx := withStepName(call.Ctx, call.StepName)
		out, err := fn(ctx, state, rc)
		return out.raw, err
	}
}

func wrapErrorFn[S, C any](fn ErrorFunc[S, C]) domain.StepFunc {
	return func(call *domain.Invocation) (domain.Outcome, error) {
		state, _ := call.State.(*S)
		rc, _ := call.RunCtx.(*C)
		ctx := withStepName(call.Ctx, call.StepName)
		out, err := fn(ctx, call.Err, state, rc, call.StepName)
		return out.raw, err
	}
}

func wrapSwitchFn[S, C any](fn SwitchFunc[S, C]) domain.SwitchFunc {
	return func(call *domain.Invocation) (string, error) {
		state, _ := call.State.(*S)
		rc, _ := call.RunCtx.(*C)
		ctx := withStepName(call.Ctx, call.StepName)
		return fn(ctx, state, rc)
	}
}

func wrapMapWorkerFn[S, C, Item any](fn MapWorkerFunc[S, C, Item]) domain.StepFunc {
	return func(call *domain.Invocation) (domain.Outcome, error) {
		state, _ := call.State.(*S)
		rc, _ := call.RunCtx.(*C)
		item, _ := call.Item.(Item)
		ctx := withStepName(call.Ctx, call.StepName)
		out, err := fn(ctx, item, state, rc)
		return out.raw, err
	}
}
