package justpipe

import (
	"context"
	"fmt"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
	"github.com/justpipe/justpipe/internal/orchestrator"
	"github.com/justpipe/justpipe/internal/telemetry"
)

// RunHandle is a running (or finished) run's external handle: drain
// Events until it closes, then read the terminal Status/error from Wait.
type RunHandle[S any] struct {
	h *orchestrator.Handle
}

// Events returns the run's totally-ordered event stream, closed once
// FINISH has been sent.
func (rh *RunHandle[S]) Events() <-chan *Event { return rh.h.Events() }

// Close requests early termination; the run resolves with
// StatusClientClosed. Safe to call more than once, and safe to call after
// the run has already finished on its own.
func (rh *RunHandle[S]) Close() { rh.h.Close() }

// Wait blocks until the run has fully settled and returns its terminal
// status and error (non-nil only for failure-class outcomes — a
// cancelled/timed-out/client-closed run reports its Status with a nil
// error, since those are not bugs).
func (rh *RunHandle[S]) Wait() (Status, error) { return rh.h.Wait() }

type runOptionsCheck struct {
	QueueSize int `validate:"gte=0"`
}

// RunOptions configures one Run call.
type RunOptions struct {
	QueueSize int
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
}

// RunOption sets one RunOptions field.
type RunOption func(*RunOptions)

// WithQueueSize bounds the run's internal event/message queue; 0 (the
// default) uses the engine's built-in default.
func WithQueueSize(n int) RunOption { return func(o *RunOptions) { o.QueueSize = n } }

// WithMetrics wires an OTel-backed Metrics collector into the run.
func WithMetrics(m *telemetry.Metrics) RunOption { return func(o *RunOptions) { o.Metrics = m } }

// WithTracer wires an OTel-backed Tracer into the run, giving each step a
// span alongside its STEP_START/STEP_END events.
func WithTracer(t *telemetry.Tracer) RunOption { return func(o *RunOptions) { o.Tracer = t } }

// Run starts p against state and rc and returns immediately with a handle
// to the running pipeline. The first Run of a given Pipeline freezes and
// validates its registry; a pipeline that fails validation, or RunOptions
// that fail their own checks, still produce a Handle — the failure
// surfaces through Wait rather than a separate error return, so a nested
// RunSub behaves identically to a top-level Run.
func Run[S, C any](ctx context.Context, p *Pipeline[S, C], state *S, rc *C, opts ...RunOption) *RunHandle[S] {
	ro := &RunOptions{}
	for _, opt := range opts {
		opt(ro)
	}
	if err := validate.Struct(runOptionsCheck{QueueSize: ro.QueueSize}); err != nil {
		return &RunHandle[S]{h: orchestrator.Failed(fmt.Errorf("justpipe: invalid run options: %w", err))}
	}

	p.reg.Freeze()
	if err := graph.Validate(p.reg); err != nil {
		return &RunHandle[S]{h: orchestrator.Failed(err)}
	}
	plan := graph.Compile(p.reg)

	cfg := orchestrator.Config{
		Registry:     p.reg,
		Plan:         plan,
		State:        state,
		RunCtx:       rc,
		QueueSize:    ro.QueueSize,
		PipelineName: p.name,
		Metrics:      ro.Metrics,
		Tracer:       ro.Tracer,
		RunSub:       subRunner[S, C],
	}

	return &RunHandle[S]{h: orchestrator.Run(ctx, cfg)}
}

// subRunner adapts justpipe.Run into the orchestrator.SubRunner shape a
// SUB step's Run() outcome needs: it type-asserts the opaque Sub/SubState
// carried on the Outcome back to this pipeline's own S/C, then recurses
// into Run with no options (a nested run inherits no queue-size/metrics
// override from its parent by design — each pipeline's own Run call is
// the place to configure that).
func subRunner[S, C any](ctx context.Context, sub any, subState any, runCtx any) (<-chan *domain.Event, error) {
	nested, ok := sub.(*Pipeline[S, C])
	if !ok {
		return nil, fmt.Errorf("justpipe: sub-pipeline has unexpected type %T", sub)
	}
	initial, ok := subState.(*S)
	if !ok {
		return nil, fmt.Errorf("justpipe: sub-pipeline initial state has unexpected type %T", subState)
	}
	rc, _ := runCtx.(*C)

	h := Run(ctx, nested, initial, rc)
	return h.Events(), nil
}
