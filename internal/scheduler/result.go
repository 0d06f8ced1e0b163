// Package scheduler turns a completed step's Outcome into the next action
// the orchestrator should take, and tracks the bookkeeping MAP fan-out and
// sub-pipeline forwarding need. The dispatch and bookkeeping here are kept
// as pure functions/state machines with no channel, goroutine, or context
// awareness of their own — the orchestrator performs the actual
// scheduling/spawning side effects — mirroring how the teacher keeps
// internal/engine's Graph/ExecutionPlan free of execution side effects
// while internal/engine.Execute drives them.
//
// Grounded on original_source's
// _internal/runtime/execution/result_handler.py:process_step_result and
// _internal/runtime/execution/scheduler.py.
package scheduler

import (
	"fmt"

	"github.com/justpipe/justpipe/internal/domain"
)

// DefaultMaxRetries matches the reference implementation's ResultHandler
// default (max_retries=100): a step stuck returning Retry() forever is
// converted into an ActionRaise whose error reports the exceeded limit,
// rather than looping indefinitely. The orchestrator records that failure
// with reason STEP_ERROR, not MAX_RETRIES_EXCEEDED.
const DefaultMaxRetries = 100

// ActionKind tags the directive Resolve produces for a completed Outcome.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionSchedule
	ActionStop
	ActionSuspend
	ActionMap
	ActionRun
	ActionRetry
	ActionSkip
	ActionRaise
)

// Action is what the orchestrator should do next in response to a step's
// Outcome. Exactly the fields relevant to Kind are populated.
type Action struct {
	Kind ActionKind

	Target         string // ActionSchedule: resolved next-step name
	MarkOwnerSkip  bool   // ActionSchedule from a plain step: static successors must not also fire
	Reason         string // ActionSuspend: suspend reason
	Err            error  // ActionRaise: the failure to record

	MapItems          []any  // ActionMap
	MapTarget         string // ActionMap
	MapMaxConcurrency int    // ActionMap

	Sub      any // ActionRun: opaque sub-pipeline definition
	SubState any // ActionRun: sub-pipeline initial state
}

// Resolve dispatches outcome (the Outcome a just-completed step returned)
// into an Action. step is the step that produced it — its Kind determines
// whether a dynamic Next target suppresses the step's static topology
// (only plain STEP kinds get this "dynamic override", per result_handler.py
// checking `step.get_kind() == NodeKind.STEP`) — and attempt is the
// invocation's current attempt count, compared against the step's own
// RetryPolicy (falling back to DefaultMaxRetries when unset).
func Resolve(outcome domain.Outcome, step *domain.Step, attempt int) Action {
	if outcome.IsNone() {
		return Action{Kind: ActionNone}
	}

	switch outcome.KindString() {
	case "Raise":
		err := outcome.Err
		if err == nil {
			err = fmt.Errorf("step %q returned Raise() without an error", step.Name)
		}
		return Action{Kind: ActionRaise, Err: err}

	case "Skip":
		return Action{Kind: ActionSkip}

	case "Retry":
		maxRetries := DefaultMaxRetries
		if step.Retry.MaxAttempts > 0 {
			maxRetries = step.Retry.MaxAttempts
		}
		if attempt >= maxRetries {
			return Action{Kind: ActionRaise, Err: fmt.Errorf(
				"step %q exceeded max retries (%d)", step.Name, maxRetries)}
		}
		return Action{Kind: ActionRetry}

	case "Stop":
		return Action{Kind: ActionStop}

	case "Suspend":
		return Action{Kind: ActionSuspend, Reason: outcome.Reason}

	case "Next":
		markSkip := step.Kind == domain.KindPlain && outcome.Target != ""
		return Action{Kind: ActionSchedule, Target: outcome.Target, MarkOwnerSkip: markSkip}

	case "Map":
		return Action{
			Kind:              ActionMap,
			MapItems:          outcome.Items,
			MapTarget:         outcome.Target,
			MapMaxConcurrency: outcome.MaxConcurrency,
		}

	case "Run":
		return Action{Kind: ActionRun, Sub: outcome.Sub, SubState: outcome.SubState}

	default:
		return Action{Kind: ActionNone}
	}
}
