package orchestrator

import (
	"context"
	"fmt"

	"github.com/justpipe/justpipe/internal/domain"
)

// resolveSwitch picks the next step name for a SWITCH step, never calling
// invoker.Execute since a switch step carries no Fn of its own: when
// SwitchDynamic is set it resolves a route *key* (not a target directly),
// which is then looked up in SwitchRoutes; an unrecognized key falls back
// to SwitchDefault. A switch with no SwitchDynamic callable has nothing
// to pick dynamically and always resolves straight to SwitchDefault. An
// empty resulting target (SwitchDefault also unset) is Stop — no successor
// fires. A panic in SwitchDynamic is returned as an error.
func (r *run) resolveSwitch(ctx context.Context, step *domain.Step, inv domain.InvocationContext) (target string, err error) {
	defer func() {
		if p := recover(); p != nil {
			target, err = "", fmt.Errorf("justpipe: switch %q panicked: %v", step.Name, p)
		}
	}()
	if step.SwitchDynamic == nil {
		return step.SwitchDefault, nil
	}

	call := &domain.Invocation{Ctx: ctx, State: r.cfg.State, RunCtx: r.cfg.RunCtx, StepName: step.Name, Attempt: inv.Attempt}
	key, err := step.SwitchDynamic(call)
	if err != nil {
		return "", err
	}

	if target, ok := step.SwitchRoutes[key]; ok {
		return target, nil
	}
	return step.SwitchDefault, nil
}
