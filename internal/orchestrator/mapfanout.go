package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/failure"
	"github.com/justpipe/justpipe/internal/kernel"
	"github.com/justpipe/justpipe/internal/scheduler"
)

// startMap fans a Map() outcome out into one worker invocation per item,
// gated by a semaphore sized from the outcome's own MaxConcurrency, the
// step's MapMaxConcurrency, or kernel.DefaultMapConcurrency in that order.
// Grounded on original_source's scheduler.py:handle_map/map_worker_wrapper,
// generalized from asyncio.Semaphore to golang.org/x/sync/semaphore.Weighted.
func (r *run) startMap(ctx context.Context, step *domain.Step, inv domain.InvocationContext, action scheduler.Action) {
	workerStep, ok := r.cfg.Registry.Step(action.MapTarget)
	if !ok {
		r.raiseFrameworkFailure(step.Name, failure.ReasonUnknownTarget,
			fmt.Errorf("justpipe: map step %q targets unknown step %q", step.Name, action.MapTarget))
		return
	}

	itemCount := len(action.Items)
	r.mapTracker.StartBatch(step.Name, action.MapTarget, itemCount, inv.InvocationID, inv.Scope)
	r.publish(&domain.Event{
		Type: domain.EventMapStart, Stage: step.Name,
		Payload:      domain.MapStartPayload{Target: action.MapTarget, ItemCount: itemCount},
		InvocationID: inv.InvocationID, Scope: inv.Scope,
	})

	if itemCount == 0 {
		// No worker will ever report back to drain this batch; settle it
		// immediately the same way MapTracker would on a worker completion.
		for _, batch := range r.mapTracker.OnStepCompleted(step.Name, step.Name) {
			r.finishMapBatch(ctx, step.Name, batch)
		}
		return
	}

	maxConcurrency := action.MapMaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = step.MapMaxConcurrency
	}
	if maxConcurrency <= 0 {
		maxConcurrency = kernel.DefaultMapConcurrency()
	}
	sem := semaphore.NewWeighted(int64(maxConcurrency))

	for i, item := range action.Items {
		idx, item := i, item
		workerInv := domain.InvocationContext{
			InvocationID:       r.nextInvocationID(),
			ParentInvocationID: inv.InvocationID,
			OwnerInvocationID:  inv.InvocationID,
			Attempt:            1,
			Scope:              append(append([]string(nil), inv.Scope...), fmt.Sprintf("%s[%d]", action.MapTarget, idx)),
			NodeKind:           domain.NodeStep,
		}

		ok := r.k.Spawn(func(workerCtx context.Context) {
			if err := sem.Acquire(workerCtx, 1); err != nil {
				_ = r.k.Submit(r.gctx, kernel.StepCompleted{
					Owner: step.Name, Name: action.MapTarget, Err: err, TrackOwner: true, Invocation: workerInv,
				})
				return
			}
			defer sem.Release(1)

			// The worker is only counted toward peak concurrency once it has
			// actually acquired a semaphore slot, not when it is merely
			// queued to run — otherwise MapWorkerPeak always equals the
			// total item count instead of the real throttled concurrency.
			// Grounded on original_source's scheduler.py:236-237
			// (map_worker_started recorded inside `async with semaphore`).
			r.cfg.Metrics.RecordMapWorkerDelta(workerCtx, 1)
			defer r.cfg.Metrics.RecordMapWorkerDelta(r.gctx, -1)

			r.publish(&domain.Event{
				Type: domain.EventMapWorker, Stage: step.Name,
				Payload:      domain.MapWorkerPayload{Index: idx, Total: itemCount, Target: action.MapTarget, Owner: step.Name},
				InvocationID: workerInv.InvocationID, Scope: workerInv.Scope,
			})
			r.runInvocation(workerCtx, workerStep, step.Name, workerInv, item, true)
		}, step.Name, true)
		if !ok {
			return
		}
	}
}

// finishMapBatch publishes the MAP owner's own deferred STEP_END (withheld
// in runInvocation since the owner's Fn merely started the fan-out, it did
// not finish it), then MAP_COMPLETE, then fires the owner's static
// successors, once every worker (or, for a zero-item batch, the owner step
// itself) has finished. Grounded on original_source's
// pipeline_runner.py:200-249 (_pending_owner_invocations).
func (r *run) finishMapBatch(ctx context.Context, owner string, batch scheduler.CompletedBatch) {
	if end, ok := r.takePendingOwnerStepEnd(batch.OwnerInvocationID); ok {
		r.publish(end)
	}

	r.publish(&domain.Event{
		Type: domain.EventMapComplete, Stage: owner,
		Payload: domain.MapCompletePayload{
			Target: batch.Target, ItemCount: batch.ItemCount,
			OwnerInvocationID: batch.OwnerInvocationID, OwnerScope: batch.OwnerScope,
		},
		OwnerInvocationID: batch.OwnerInvocationID, Scope: batch.OwnerScope,
	})

	ownerStep, ok := r.cfg.Registry.Step(owner)
	if !ok {
		return
	}
	completionInv := domain.InvocationContext{InvocationID: batch.OwnerInvocationID, Scope: batch.OwnerScope}
	r.fireSuccessors(ctx, ownerStep, ownerStep.To, completionInv)
}
