package orchestrator

import (
	"context"
	"fmt"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/failure"
	"github.com/justpipe/justpipe/internal/kernel"
	"github.com/justpipe/justpipe/internal/scheduler"
)

// startSub runs a Run() outcome's nested pipeline definition via the
// injected SubRunner and forwards every event it produces into this run's
// own stream, rewritten through scheduler.RewriteSubEvent so the owning
// SUB step's stage/scope/run-lineage read correctly from the parent's
// point of view. Grounded on scheduler.py's sub_pipe_wrapper.
func (r *run) startSub(ctx context.Context, step *domain.Step, inv domain.InvocationContext, action scheduler.Action) {
	if r.cfg.RunSub == nil {
		r.raiseFrameworkFailure(step.Name, failure.ReasonInternalError,
			fmt.Errorf("justpipe: step %q returned Run() but no sub-pipeline runner is configured", step.Name))
		return
	}

	events, err := r.cfg.RunSub(ctx, action.Sub, action.SubState, r.cfg.RunCtx)
	if err != nil {
		r.raiseFrameworkFailure(step.Name, failure.ReasonInternalError, err)
		return
	}

	r.k.Spawn(func(subCtx context.Context) {
		var subErr error
		for ev := range events {
			if ev.Type == domain.EventFinish {
				if payload, ok := ev.Payload.(domain.FinishPayload); ok && payload.Failure != nil {
					subErr = fmt.Errorf("justpipe: sub-pipeline %q failed: %s", step.Name, payload.Failure.Message)
				}
			}
			r.publish(scheduler.RewriteSubEvent(ev, step.Name, r.runID, inv))
		}
		_ = r.k.Submit(r.gctx, kernel.StepCompleted{
			Owner: step.Name, Name: step.Name, TrackOwner: true, Invocation: inv, Err: subErr,
		})
	}, step.Name, true)
}
