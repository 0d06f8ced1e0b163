package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/justpipe/justpipe/internal/domain"
)

func plainStep(name string) *domain.Step {
	return &domain.Step{Name: name, Kind: domain.KindPlain}
}

func TestResolveNoneFiresStaticSuccessors(t *testing.T) {
	a := Resolve(domain.Outcome{}, plainStep("s"), 1)
	assert.Equal(t, ActionNone, a.Kind)
}

func TestResolveNextSchedulesAndMarksPlainStepSkipped(t *testing.T) {
	out := domain.Outcome{Kind: domain.OutcomeNext, Target: "b"}
	a := Resolve(out, plainStep("a"), 1)
	assert.Equal(t, ActionSchedule, a.Kind)
	assert.Equal(t, "b", a.Target)
	assert.True(t, a.MarkOwnerSkip, "a plain step's dynamic Next must suppress its static topology")
}

func TestResolveNextFromSwitchDoesNotMarkSkip(t *testing.T) {
	out := domain.Outcome{Kind: domain.OutcomeNext, Target: "b"}
	step := &domain.Step{Name: "route", Kind: domain.KindSwitch}
	a := Resolve(out, step, 1)
	assert.Equal(t, ActionSchedule, a.Kind)
	assert.False(t, a.MarkOwnerSkip, "switch steps already only fire one static target; no dynamic override needed")
}

func TestResolveStop(t *testing.T) {
	a := Resolve(domain.Outcome{Kind: domain.OutcomeStop}, plainStep("s"), 1)
	assert.Equal(t, ActionStop, a.Kind)
}

func TestResolveSuspendCarriesReason(t *testing.T) {
	a := Resolve(domain.Outcome{Kind: domain.OutcomeSuspend, Reason: "waiting on approval"}, plainStep("s"), 1)
	assert.Equal(t, ActionSuspend, a.Kind)
	assert.Equal(t, "waiting on approval", a.Reason)
}

func TestResolveSkip(t *testing.T) {
	a := Resolve(domain.Outcome{Kind: domain.OutcomeSkip}, plainStep("s"), 1)
	assert.Equal(t, ActionSkip, a.Kind)
}

func TestResolveRetryBelowMaxReschedules(t *testing.T) {
	a := Resolve(domain.Outcome{Kind: domain.OutcomeRetry}, plainStep("s"), 1)
	assert.Equal(t, ActionRetry, a.Kind)
}

func TestResolveRetryAtMaxBecomesRaise(t *testing.T) {
	step := &domain.Step{Name: "s", Kind: domain.KindPlain, Retry: domain.RetryPolicy{MaxAttempts: 3}}
	a := Resolve(domain.Outcome{Kind: domain.OutcomeRetry}, step, 3)
	assert.Equal(t, ActionRaise, a.Kind)
	assert.Contains(t, a.Err.Error(), "exceeded max retries")
}

func TestResolveRetryDefaultMaxRetries(t *testing.T) {
	step := plainStep("s")
	a := Resolve(domain.Outcome{Kind: domain.OutcomeRetry}, step, DefaultMaxRetries)
	assert.Equal(t, ActionRaise, a.Kind)
}

func TestResolveRaiseWithErrPassesThrough(t *testing.T) {
	wantErr := errors.New("boom")
	a := Resolve(domain.Outcome{Kind: domain.OutcomeRaise, Err: wantErr}, plainStep("s"), 1)
	assert.Equal(t, ActionRaise, a.Kind)
	assert.Equal(t, wantErr, a.Err)
}

func TestResolveRaiseWithoutErrSynthesizesOne(t *testing.T) {
	a := Resolve(domain.Outcome{Kind: domain.OutcomeRaise}, plainStep("s"), 1)
	assert.Equal(t, ActionRaise, a.Kind)
	assert.Error(t, a.Err)
}

func TestResolveMap(t *testing.T) {
	out := domain.Outcome{Kind: domain.OutcomeMap, Items: []any{1, 2, 3}, Target: "worker", MaxConcurrency: 4}
	a := Resolve(out, plainStep("fanout"), 1)
	assert.Equal(t, ActionMap, a.Kind)
	assert.Equal(t, []any{1, 2, 3}, a.MapItems)
	assert.Equal(t, "worker", a.MapTarget)
	assert.Equal(t, 4, a.MapMaxConcurrency)
}

func TestResolveRun(t *testing.T) {
	sub := struct{ name string }{"child"}
	a := Resolve(domain.Outcome{Kind: domain.OutcomeRun, Sub: sub, SubState: "init"}, plainStep("s"), 1)
	assert.Equal(t, ActionRun, a.Kind)
	assert.Equal(t, sub, a.Sub)
	assert.Equal(t, "init", a.SubState)
}
