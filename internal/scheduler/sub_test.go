package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/justpipe/justpipe/internal/domain"
)

func TestRewriteSubEventPrefixesStageAndScope(t *testing.T) {
	ev := &domain.Event{
		Stage: "load",
		RunID: "sub-run-1",
		Scope: []string{"load"},
	}
	ownerInv := domain.InvocationContext{InvocationID: "owner-inv-1"}

	out := RewriteSubEvent(ev, "ingest", "parent-run-1", ownerInv)

	assert.Equal(t, "ingest:load", out.Stage)
	assert.Equal(t, []string{"ingest", "load"}, out.Scope)
	assert.Equal(t, "parent-run-1", out.RunID)
	assert.Equal(t, "sub-run-1", out.ParentRunID)
	assert.Equal(t, "sub-run-1", out.OriginRunID, "first hop: origin falls back to the sub-run's own RunID")
	assert.Equal(t, "owner-inv-1", out.ParentInvocationID)
	assert.Equal(t, "owner-inv-1", out.OwnerInvocationID)
}

func TestRewriteSubEventPreservesOriginAcrossNestedSubPipelines(t *testing.T) {
	ev := &domain.Event{
		Stage:       "load",
		RunID:       "grandchild-run",
		OriginRunID: "top-run",
		Scope:       []string{"load"},
	}
	ownerInv := domain.InvocationContext{InvocationID: "mid-inv"}

	out := RewriteSubEvent(ev, "mid", "mid-run", ownerInv)

	assert.Equal(t, "top-run", out.OriginRunID, "a already-set OriginRunID must survive further nesting")
	assert.Equal(t, "grandchild-run", out.ParentRunID)
	assert.Equal(t, "mid-run", out.RunID)
}

func TestRewriteSubEventFallsBackToParentRunIDWhenNoRunIDAtAll(t *testing.T) {
	ev := &domain.Event{Stage: "noop"}
	ownerInv := domain.InvocationContext{InvocationID: "owner-inv"}

	out := RewriteSubEvent(ev, "owner", "parent-run", ownerInv)

	assert.Equal(t, "parent-run", out.OriginRunID, "with neither OriginRunID nor RunID set, origin falls back to the parent run")
}

func TestRewriteSubEventDoesNotMutateOriginalEvent(t *testing.T) {
	ev := &domain.Event{Stage: "load", Scope: []string{"load"}}
	RewriteSubEvent(ev, "ingest", "parent-run", domain.InvocationContext{})

	assert.Equal(t, "load", ev.Stage, "rewriting must not mutate the event passed in")
	assert.Equal(t, []string{"load"}, ev.Scope)
}
