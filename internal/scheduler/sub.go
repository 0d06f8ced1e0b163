package scheduler

import (
	"github.com/justpipe/justpipe/internal/domain"
)

// RewriteSubEvent rewrites an event produced by a sub-pipeline so it reads
// correctly once forwarded into the parent run's own event stream: the
// stage is prefixed with "<owner>:", the scope path gains the owner as its
// outermost segment, RunID becomes the parent run's id, ParentRunID records
// the sub-run the event came from, and OriginRunID keeps the earliest run id
// already on the event (falling back to the sub-run's, then the parent's).
// Ported field-for-field from scheduler.py's sub_pipe_wrapper event
// rewriting loop.
func RewriteSubEvent(ev *domain.Event, owner string, parentRunID string, ownerInv domain.InvocationContext) *domain.Event {
	out := *ev
	out.Stage = owner + ":" + ev.Stage

	originRunID := ev.OriginRunID
	if originRunID == "" {
		originRunID = ev.RunID
	}
	if originRunID == "" {
		originRunID = parentRunID
	}
	out.OriginRunID = originRunID
	out.ParentRunID = ev.RunID
	out.RunID = parentRunID

	out.ParentInvocationID = ownerInv.InvocationID
	out.OwnerInvocationID = ownerInv.InvocationID

	scope := make([]string, 0, len(ev.Scope)+1)
	scope = append(scope, owner)
	scope = append(scope, ev.Scope...)
	out.Scope = scope

	return &out
}
