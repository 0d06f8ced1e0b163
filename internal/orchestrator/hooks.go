package orchestrator

import (
	"context"
	"fmt"

	"github.com/justpipe/justpipe/internal/domain"
)

// runStartupHooks runs every registered startup hook in registration
// order, stopping at the first failure (lifecycle_manager.py's
// execute_startup: startup is all-or-nothing, unlike shutdown).
func (r *run) runStartupHooks(ctx context.Context) error {
	for _, hook := range r.cfg.Registry.StartupHooks() {
		if hook == nil {
			continue
		}
		if _, err := r.invokeHook(ctx, hook); err != nil {
			return err
		}
	}
	return nil
}

// runShutdownHooks runs every registered shutdown hook regardless of
// whether earlier ones failed, recording each failure separately in the
// journal as SHUTDOWN/ReasonShutdownHookError — never capable of turning a
// success into a failure (spec.md §7) — matching lifecycle_manager.py's
// execute_shutdown, which swallows and logs each hook's own error rather
// than aborting the remaining hooks.
func (r *run) runShutdownHooks(ctx context.Context) {
	for _, hook := range r.cfg.Registry.ShutdownHooks() {
		if hook == nil {
			continue
		}
		if _, err := r.invokeHook(ctx, hook); err != nil {
			r.journal.Record(failureShutdownRecord(err))
			r.publish(&domain.Event{Type: domain.EventStepError, Stage: "shutdown", Payload: err})
		}
	}
}

func (r *run) invokeHook(ctx context.Context, hook domain.StepFunc) (out domain.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("justpipe: lifecycle hook panicked: %v", p)
		}
	}()
	call := &domain.Invocation{Ctx: ctx, State: r.cfg.State, RunCtx: r.cfg.RunCtx}
	return hook(call)
}
