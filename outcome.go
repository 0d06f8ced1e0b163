package justpipe

import "github.com/justpipe/justpipe/internal/domain"

// Outcome is the directive a step function returns to tell the engine what
// happens next: fire the step's static successors, jump to a named target,
// fan out over a collection, launch a nested pipeline, or halt. Callers
// never build one by hand — only through the constructors below — so every
// Outcome the engine ever sees is well-formed by construction.
type Outcome struct {
	raw domain.Outcome
}

// Next routes to target instead of the step's statically declared
// successors. Valid from any step kind except SWITCH, which always routes
// through its own routing table.
func Next(target string) Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeNext, Target: target}}
}

// Stop halts this branch: no successor, static or dynamic, fires.
func Stop() Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeStop}}
}

// Skip halts this branch the same way Stop does: no successor fires. It
// does not count as a completed parent for any barrier downstream, so an
// ALL barrier waiting on this step is not released by it.
func Skip() Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeSkip}}
}

// Suspend halts the run at this step and records reason; resuming from a
// SUSPEND is out of scope (no checkpoint is kept).
func Suspend(reason string) Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeSuspend, Reason: reason}}
}

// Retry reschedules this step under the same invocation identity with its
// attempt counter incremented, up to the step's configured retry limit.
func Retry() Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeRetry}}
}

// Raise converts err into a terminal, framework-sourced STEP_ERROR,
// bypassing local/global error-hook escalation entirely — for a step that
// has already decided a failure is unrecoverable.
func Raise(err error) Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeRaise, Err: err}}
}

// MapOption configures one MapOver call.
type MapOption func(*domain.Outcome)

// WithMapConcurrency caps how many of this batch's workers may run at
// once, overriding both the MAP step's WithMapMaxConcurrency cap and the
// engine's built-in default for this one invocation.
func WithMapConcurrency(n int) MapOption {
	return func(o *domain.Outcome) { o.MaxConcurrency = n }
}

// MapOver fans out items, one invocation of worker per item, gated by an
// optional WithMapConcurrency cap. worker must have been registered via
// AddMapWorker as the declared worker for the MAP step returning this
// Outcome.
func MapOver[Item any](worker string, items []Item, opts ...MapOption) Outcome {
	erased := make([]any, len(items))
	for i, it := range items {
		erased[i] = it
	}
	o := domain.Outcome{Kind: domain.OutcomeMap, Target: worker, Items: erased}
	for _, opt := range opts {
		opt(&o)
	}
	return Outcome{o}
}

// RunSub launches sub as a nested pipeline run seeded with initial state,
// forwarding its event stream (rewritten with an owner-prefixed stage and
// scope) into the parent run. The nested pipeline shares the parent's
// State and Context types.
func RunSub[S, C any](sub *Pipeline[S, C], initial *S) Outcome {
	return Outcome{domain.Outcome{Kind: domain.OutcomeRun, Sub: sub, SubState: initial}}
}
