package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/justpipe/justpipe/internal/barrier"
	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/failure"
	"github.com/justpipe/justpipe/internal/kernel"
	"github.com/justpipe/justpipe/internal/scheduler"
	"github.com/justpipe/justpipe/internal/telemetry"
)

// scheduleFresh starts a brand-new (attempt 1) invocation of name, owned
// by owner (itself for most steps; the MAP step's name for its workers).
// parentInv is the invocation context of whatever completed and caused
// name to become ready; a fresh invocation id and scope are derived from
// it.
func (r *run) scheduleFresh(name, owner string, parentInv domain.InvocationContext) {
	step, ok := r.cfg.Registry.Step(name)
	if !ok {
		r.raiseFrameworkFailure(name, failure.ReasonUnknownTarget, fmt.Errorf("justpipe: unknown step %q", name))
		return
	}
	inv := domain.InvocationContext{
		InvocationID:       r.nextInvocationID(),
		ParentInvocationID: parentInv.InvocationID,
		OwnerInvocationID:  parentInv.OwnerInvocationID,
		Attempt:            1,
		Scope:              append(append([]string(nil), parentInv.Scope...), name),
		NodeKind:           r.nodeKindFor(name),
	}
	r.spawnStep(step, owner, inv, nil, true)
}

// scheduleRetry reschedules step under the same invocation identity with
// its attempt counter incremented, per a Retry() outcome.
func (r *run) scheduleRetry(step *domain.Step, owner string, inv domain.InvocationContext) {
	next := inv
	next.Attempt++
	r.spawnStep(step, owner, next, nil, true)
}

// spawnStep launches one invocation of step in the kernel's scope. item is
// non-nil only for MAP worker invocations; trackOwner controls whether the
// kernel's logical-completion accounting attributes this goroutine to
// owner (always true for top-level steps; also true for MAP workers, whose
// shared owner is the MAP step itself).
func (r *run) spawnStep(step *domain.Step, owner string, inv domain.InvocationContext, item any, trackOwner bool) {
	ok := r.k.Spawn(func(ctx context.Context) {
		r.runInvocation(ctx, step, owner, inv, item, trackOwner)
	}, owner, trackOwner)
	if !ok {
		// Tracker is already winding down (Stop/Suspend/cancellation raced
		// this schedule); nothing more to do.
		return
	}
}

// runInvocation executes one step invocation end-to-end: STEP_START,
// dispatch by kind, STEP_END on success, then hands the result to the
// single consumer loop via a StepCompleted message. A MAP/SUB-triggering
// outcome does not own its own completion yet: its STEP_END is deferred
// until the map batch drains (finishMapBatch) or the sub-run completes
// (onStepCompleted's SUB-completion branch), per
// original_source's pipeline_runner.py:200-249
// (_pending_owner_invocations).
func (r *run) runInvocation(ctx context.Context, step *domain.Step, owner string, inv domain.InvocationContext, item any, trackOwner bool) {
	ctx = telemetry.WithMeta(ctx, r.meta.ForInvocation())

	start := time.Now()
	r.publish(&domain.Event{
		Type: domain.EventStepStart, Stage: step.Name, NodeKind: inv.NodeKind,
		InvocationID: inv.InvocationID, ParentInvocationID: inv.ParentInvocationID,
		OwnerInvocationID: inv.OwnerInvocationID, Attempt: inv.Attempt, Scope: inv.Scope,
	})

	outcome, err, alreadyTerminal := r.dispatch(ctx, step, inv, item)

	r.cfg.Metrics.RecordStepDuration(ctx, time.Since(start), err != nil)

	if err == nil {
		end := &domain.Event{
			Type: domain.EventStepEnd, Stage: step.Name, NodeKind: inv.NodeKind,
			InvocationID: inv.InvocationID, ParentInvocationID: inv.ParentInvocationID,
			OwnerInvocationID: inv.OwnerInvocationID, Attempt: inv.Attempt, Scope: inv.Scope,
			Payload: time.Since(start), Meta: stepMeta(ctx),
		}
		if outcome.Kind == domain.OutcomeMap || outcome.Kind == domain.OutcomeRun {
			r.deferOwnerStepEnd(inv.InvocationID, end)
		} else {
			r.publish(end)
		}
	}

	msg := kernel.StepCompleted{
		Owner: owner, Name: step.Name, Outcome: outcome, Err: err,
		TrackOwner: trackOwner, Invocation: inv, AlreadyTerminal: alreadyTerminal,
	}
	_ = r.k.Submit(r.gctx, msg)
}

// stepMeta reads ctx's step-scoped Meta (attached by runInvocation via
// telemetry.WithMeta) and snapshots it for attachment to a STEP_END event,
// so data a step recorded on meta.step.* during its own execution rides
// along on the event instead of vanishing once the invocation returns.
// Grounded on original_source's step_execution_coordinator.py:126-135.
func stepMeta(ctx context.Context) map[string]any {
	m, ok := telemetry.FromContext(ctx)
	if !ok || m.Step == nil {
		return nil
	}
	return m.Step.Snapshot()
}

// deferOwnerStepEnd stashes a MAP/SUB owner's STEP_END event, keyed by its
// own invocation id, until finishMapBatch or the sub-run's completion
// branch in onStepCompleted is ready to publish it.
func (r *run) deferOwnerStepEnd(invocationID string, ev *domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingOwnerEnd == nil {
		r.pendingOwnerEnd = make(map[string]*domain.Event)
	}
	r.pendingOwnerEnd[invocationID] = ev
}

// takePendingOwnerStepEnd removes and returns invocationID's deferred
// STEP_END event, if one is still pending.
func (r *run) takePendingOwnerStepEnd(invocationID string) (*domain.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.pendingOwnerEnd[invocationID]
	if ok {
		delete(r.pendingOwnerEnd, invocationID)
	}
	return ev, ok
}

// dispatch executes step according to its kind: SWITCH steps never call
// invoker.Execute (they have no Fn), MAP owner steps produce their item
// list through the ordinary invoker path exactly like a plain step (the
// Map() outcome is just another Outcome variant), and SUB steps resolve
// through invoker like a plain step too (a SUB step's Fn is synthesized by
// the root package to return Run(...)).
func (r *run) dispatch(ctx context.Context, step *domain.Step, inv domain.InvocationContext, item any) (domain.Outcome, error, bool) {
	if step.Kind == domain.KindSwitch {
		target, err := r.resolveSwitch(ctx, step, inv)
		if err != nil {
			return domain.Outcome{}, err, false
		}
		if target == "" {
			return domain.Outcome{Kind: domain.OutcomeStop}, nil, false
		}
		return domain.Outcome{Kind: domain.OutcomeNext, Target: target}, nil, false
	}

	call := &domain.Invocation{Ctx: ctx, State: r.cfg.State, RunCtx: r.cfg.RunCtx, Item: item, Attempt: inv.Attempt}
	ctx, span := r.cfg.Tracer.StartStep(ctx, step.Name, inv)
	call.Ctx = ctx

	outcome, err := r.safeExecute(ctx, step, call, inv)
	span.End(err)
	return outcome, err, false
}

// safeExecute recovers a panicking step body into an ordinary error,
// matching the reference implementation's blanket exception capture around
// user callables (spec.md §7 classifies a step panic as STEP/USER_CODE).
func (r *run) safeExecute(ctx context.Context, step *domain.Step, call *domain.Invocation, inv domain.InvocationContext) (out domain.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("justpipe: step %q panicked: %v", step.Name, p)
		}
	}()
	return r.invoker.Execute(ctx, step, call, inv)
}

// onStepCompleted is the single place a finished invocation's bookkeeping,
// failure escalation, and successor scheduling happen — always called from
// the run's one serialized consumer goroutine.
func (r *run) onStepCompleted(ctx context.Context, msg kernel.StepCompleted) {
	defer r.k.Tracker().RecordPhysicalCompletion()
	if msg.TrackOwner {
		// Kept in step with every spawn's RecordSpawn purely for the
		// tracker's own internal bookkeeping; scheduler.MapTracker below is
		// the actual source of truth for "has this MAP batch drained",
		// since it alone distinguishes separate Map() waves from the same
		// owner across retries.
		r.k.Tracker().RecordLogicalCompletion(msg.Owner)
	}

	for _, batch := range r.mapTracker.OnStepCompleted(msg.Owner, msg.Name) {
		r.finishMapBatch(ctx, msg.Owner, batch)
	}

	if msg.Err != nil {
		r.handleFailure(ctx, msg)
		return
	}

	if msg.Outcome.Kind != domain.OutcomeMap && msg.Outcome.Kind != domain.OutcomeRun {
		// Only a "plain" completion can own a deferred STEP_END here: the
		// MAP/SUB owner's own Map()/Run()-returning completion (Outcome.Kind
		// still Map/Run) must leave its pending entry alone until the batch
		// drains (finishMapBatch) or the sub-run reports back under this
		// same invocation id with a zero-value Outcome, which is what this
		// branch catches.
		if end, ok := r.takePendingOwnerStepEnd(msg.Invocation.InvocationID); ok {
			r.publish(end)
		}
	}

	step, ok := r.cfg.Registry.Step(msg.Name)
	if !ok {
		return
	}

	action := scheduler.Resolve(msg.Outcome, step, msg.Invocation.Attempt)
	r.handleAction(ctx, step, msg.Owner, msg.Invocation, action)
}

func (r *run) handleFailure(ctx context.Context, msg kernel.StepCompleted) {
	if msg.AlreadyTerminal {
		return
	}
	result := r.failureH.Handle(ctx, msg.Name, msg.Owner, msg.Err, r.cfg.State, r.cfg.RunCtx, msg.Invocation)
	if !result.OK {
		return
	}
	step, ok := r.cfg.Registry.Step(msg.Name)
	if !ok {
		return
	}
	action := scheduler.Resolve(result.Outcome, step, msg.Invocation.Attempt)
	r.handleAction(ctx, step, msg.Owner, msg.Invocation, action)
}

func (r *run) handleAction(ctx context.Context, step *domain.Step, owner string, inv domain.InvocationContext, action scheduler.Action) {
	switch action.Kind {
	case scheduler.ActionNone:
		r.fireSuccessors(ctx, step, step.To, inv)

	case scheduler.ActionSchedule:
		if action.Target == "" {
			return
		}
		r.transition(ctx, step.Name, []string{action.Target}, inv)
		if !action.MarkOwnerSkip {
			r.fireSuccessors(ctx, step, step.To, inv)
		}

	case scheduler.ActionStop, scheduler.ActionSkip:
		// No successors fire; the tracker naturally idles once sibling
		// branches also settle.

	case scheduler.ActionSuspend:
		r.publish(&domain.Event{Type: domain.EventSuspend, Stage: step.Name, Payload: action.Reason,
			InvocationID: inv.InvocationID, Attempt: inv.Attempt, Scope: inv.Scope})
		r.k.RequestStop()

	case scheduler.ActionRetry:
		r.scheduleRetry(step, owner, inv)

	case scheduler.ActionRaise:
		r.raiseFrameworkFailure(step.Name, failure.ReasonStepError, action.Err)

	case scheduler.ActionMap:
		r.startMap(ctx, step, inv, action)

	case scheduler.ActionRun:
		r.startSub(ctx, step, inv, action)
	}
}

// fireSuccessors schedules every statically-declared successor of step
// (the default "no directive" path for ActionNone, and the static
// topology a dynamic Next() target does NOT suppress for non-plain steps).
func (r *run) fireSuccessors(ctx context.Context, step *domain.Step, successors []string, inv domain.InvocationContext) {
	if len(successors) == 0 {
		return
	}
	r.transition(ctx, step.Name, successors, inv)
}

// transition hands completedNode's firing of successors to
// internal/barrier, then acts on the result: steps that just became ready
// are scheduled fresh, newly-multi-parent nodes get a timeout watcher, and
// nodes satisfied before their deadline have their watcher released.
func (r *run) transition(ctx context.Context, completedNode string, successors []string, parentInv domain.InvocationContext) {
	result := barrier.Transition(r.barrierSt, completedNode, successors, r.cfg.Registry.Step)

	for _, name := range result.StepsToStart {
		r.scheduleFresh(name, name, parentInv)
	}
	for _, sched := range result.BarriersToSchedule {
		r.scheduleBarrierWatcher(sched.Node, sched.Timeout)
	}
	for _, node := range result.BarriersToCancel {
		r.releaseWatcher(node)
	}
}

// raiseFrameworkFailure records a terminal, framework-sourced failure
// (unknown target, exceeded retries, a step's own Raise()) directly in the
// journal and emits the corresponding STEP_ERROR.
func (r *run) raiseFrameworkFailure(stepName string, reason failure.Reason, err error) {
	r.publisher.EmitStepError(r.gctx, stepName, err, domain.InvocationContext{})
	r.journal.Record(failure.Record{
		Kind: failure.KindStep, Source: failure.SourceFramework, Reason: reason,
		Message: err.Error(), Step: stepName, Err: err,
	})
}
