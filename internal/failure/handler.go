package failure

import (
	"context"
	"errors"
	"fmt"

	"github.com/justpipe/justpipe/internal/domain"
)

// ErrCancelled is the cooperative-stop sentinel a step (or the engine
// itself) can raise to request a clean CANCELLED completion instead of a
// STEP_ERROR. Ported from original_source's PipelineCancelled exception;
// Go has no exception hierarchy, so a sentinel error checked with
// errors.Is stands in.
var ErrCancelled = errors.New("justpipe: pipeline cancelled")

// Emitter is the subset of the telemetry publisher the failure handler
// needs: emitting STEP_ERROR/CANCELLED events without depending on the
// whole telemetry package (keeps internal/failure leaf-level).
type Emitter interface {
	EmitStepError(ctx context.Context, stepName string, err error, inv domain.InvocationContext)
	EmitCancelled(stepName string, message string, inv domain.InvocationContext)
}

// Handler implements the escalation order from spec.md §4.7: local error
// handler -> global OnError hook -> terminal (journal + STEP_ERROR).
type Handler struct {
	journal     *Journal
	emit        Emitter
	globalHook  domain.StepFunc
	errHandlers map[string]domain.StepFunc // per-step local handlers
}

// New builds a failure handler bound to a journal and event emitter. The
// global hook may be nil (no onError registered); errHandlers maps step
// name to its local handler (also may be absent per step).
func New(journal *Journal, emit Emitter, globalHook domain.StepFunc, errHandlers map[string]domain.StepFunc) *Handler {
	return &Handler{journal: journal, emit: emit, globalHook: globalHook, errHandlers: errHandlers}
}

// HandleResult is what a failure resolves to once escalation completes: a
// replacement Outcome to continue processing as-if the step itself
// returned it, or (ok=false) confirmation the failure was terminal and the
// step has already been completed as STEP_ERROR/CANCELLED.
type HandleResult struct {
	Outcome domain.Outcome
	OK      bool
}

// Handle runs the escalation chain for a step failure. ctx is handed to the
// local/global handlers as their Invocation.Ctx and to the STEP_ERROR
// emitter; state/rc are forwarded to local/global handlers as their injected
// STATE/CONTEXT parameters (spec.md §4.7).
func (h *Handler) Handle(ctx context.Context, stepName, owner string, err error, state, rc any, inv domain.InvocationContext) HandleResult {
	if errors.Is(err, ErrCancelled) {
		h.emit.EmitCancelled(stepName, err.Error(), inv)
		h.journal.Record(Record{Kind: KindStep, Source: SourceUserCode, Reason: ReasonCancelled, Message: err.Error(), Step: stepName, Err: err})
		return HandleResult{OK: false}
	}

	if local, ok := h.errHandlers[stepName]; ok && local != nil {
		out, herr := h.invoke(ctx, local, stepName, err, state, rc, inv)
		if herr == nil {
			return HandleResult{Outcome: out, OK: true}
		}
		err = fmt.Errorf("local error handler for %q: %w", stepName, herr)
		if errors.Is(err, ErrCancelled) {
			return h.Handle(ctx, stepName, owner, err, state, rc, inv)
		}
	}

	if h.globalHook != nil {
		out, herr := h.invoke(ctx, h.globalHook, stepName, err, state, rc, inv)
		if herr != nil {
			return h.terminal(ctx, stepName, fmt.Errorf("global error hook: %w", herr), inv)
		}
		return HandleResult{Outcome: out, OK: true}
	}

	return h.terminal(ctx, stepName, err, inv)
}

func (h *Handler) invoke(ctx context.Context, fn domain.StepFunc, stepName string, err error, state, rc any, inv domain.InvocationContext) (domain.Outcome, error) {
	call := &domain.Invocation{
		Ctx:      ctx,
		State:    state,
		RunCtx:   rc,
		Err:      err,
		StepName: stepName,
		Attempt:  inv.Attempt,
	}
	return fn(call)
}

func (h *Handler) terminal(ctx context.Context, stepName string, err error, inv domain.InvocationContext) HandleResult {
	h.emit.EmitStepError(ctx, stepName, err, inv)
	h.journal.Record(Record{
		Kind:    KindStep,
		Source:  SourceUserCode,
		Reason:  ReasonStepError,
		Message: err.Error(),
		Step:    stepName,
		Err:     err,
	})
	return HandleResult{OK: false}
}
