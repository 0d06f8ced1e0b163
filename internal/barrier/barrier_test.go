package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

func step(name string, kind domain.StepKind, barrierType domain.BarrierType) *domain.Step {
	return &domain.Step{Name: name, Kind: kind, BarrierType: barrierType}
}

func lookupFrom(steps map[string]*domain.Step) func(string) (*domain.Step, bool) {
	return func(name string) (*domain.Step, bool) {
		s, ok := steps[name]
		return s, ok
	}
}

func TestTransitionAllBarrierWaitsForEveryParent(t *testing.T) {
	steps := map[string]*domain.Step{
		"join": step("join", domain.KindPlain, domain.BarrierAll),
	}
	plan := &graph.Plan{Parents: map[string][]string{"join": {"a", "b"}}}
	s := NewState(plan)
	lookup := lookupFrom(steps)

	r1 := Transition(s, "a", []string{"join"}, lookup)
	assert.Empty(t, r1.StepsToStart, "join must not start until both parents complete")
	require.Len(t, r1.BarriersToSchedule, 0, "no timeout configured")

	r2 := Transition(s, "b", []string{"join"}, lookup)
	assert.Equal(t, []string{"join"}, r2.StepsToStart)
	assert.Equal(t, []string{"join"}, r2.BarriersToCancel)
}

func TestTransitionAnyBarrierFiresOnFirstParent(t *testing.T) {
	steps := map[string]*domain.Step{
		"join": step("join", domain.KindPlain, domain.BarrierAny),
	}
	plan := &graph.Plan{Parents: map[string][]string{"join": {"a", "b"}}}
	s := NewState(plan)
	lookup := lookupFrom(steps)

	r1 := Transition(s, "a", []string{"join"}, lookup)
	assert.Equal(t, []string{"join"}, r1.StepsToStart, "ANY barrier fires on first completion")

	r2 := Transition(s, "b", []string{"join"}, lookup)
	assert.Empty(t, r2.StepsToStart, "second parent in the same wave must not re-fire")
}

func TestTransitionAnyBarrierResetsBetweenWaves(t *testing.T) {
	steps := map[string]*domain.Step{
		"join": step("join", domain.KindPlain, domain.BarrierAny),
	}
	plan := &graph.Plan{Parents: map[string][]string{"join": {"a", "b"}}}
	s := NewState(plan)
	lookup := lookupFrom(steps)

	Transition(s, "a", []string{"join"}, lookup)
	Transition(s, "b", []string{"join"}, lookup)

	// Next wave: "a" completes again (e.g. a loop-back in a longer-running
	// pipeline) and should re-fire the ANY join.
	r3 := Transition(s, "a", []string{"join"}, lookup)
	assert.Equal(t, []string{"join"}, r3.StepsToStart)
}

func TestTransitionSchedulesTimeoutOnlyForALLBarrierWithMultipleParents(t *testing.T) {
	steps := map[string]*domain.Step{
		"joinAll": {Name: "joinAll", Kind: domain.KindPlain, BarrierType: domain.BarrierAll, BarrierTimeout: 5 * time.Second},
		"joinAny": {Name: "joinAny", Kind: domain.KindPlain, BarrierType: domain.BarrierAny, BarrierTimeout: 5 * time.Second},
	}
	plan := &graph.Plan{Parents: map[string][]string{
		"joinAll": {"a", "b"},
		"joinAny": {"a", "b"},
	}}
	s := NewState(plan)
	lookup := lookupFrom(steps)

	r := Transition(s, "a", []string{"joinAll", "joinAny"}, lookup)
	require.Len(t, r.BarriersToSchedule, 1, "ANY barriers never schedule a timeout watcher (spec §9 Open Question 3)")
	assert.Equal(t, "joinAll", r.BarriersToSchedule[0].Node)
}

func TestTransitionSwitchSiblingExclusivityShrinksALLBarrier(t *testing.T) {
	steps := map[string]*domain.Step{
		"route": {
			Name: "route", Kind: domain.KindSwitch,
			SwitchRoutes: map[string]string{"ok": "success", "err": "failure"},
		},
		"success": step("success", domain.KindPlain, domain.BarrierAll),
		"failure": step("failure", domain.KindPlain, domain.BarrierAll),
		"other":   step("other", domain.KindPlain, domain.BarrierAll),
		"join":    step("join", domain.KindPlain, domain.BarrierAll),
	}
	r := graph.New()
	for _, s := range steps {
		require.NoError(t, r.AddStep(s))
	}
	r.Freeze()

	plan := &graph.Plan{
		Registry: r,
		Parents: map[string][]string{
			"join": {"success", "failure", "other"},
		},
		SwitchSiblingGroups: map[string][]string{
			"route": {"success", "failure"},
		},
	}

	state := NewState(plan)
	lookup := lookupFrom(steps)

	// "success" ran (its sibling "failure" is now unreachable this wave);
	// join should only still need "other".
	res := Transition(state, "success", []string{"join"}, lookup)
	assert.Empty(t, res.StepsToStart, "join still needs 'other' even after its switch branch fires")

	res2 := Transition(state, "other", []string{"join"}, lookup)
	assert.Equal(t, []string{"join"}, res2.StepsToStart, "unreached sibling 'failure' must not block the join")
}

func TestWatcherReleaseBeforeTimeout(t *testing.T) {
	w := NewWatcher("join")
	done := make(chan error, 1)
	go func() { done <- w.Wait(context.Background(), 50*time.Millisecond) }()
	w.Release()
	err := <-done
	assert.NoError(t, err)
}

func TestWatcherTimesOut(t *testing.T) {
	w := NewWatcher("join")
	err := w.Wait(context.Background(), 5*time.Millisecond)
	require.Error(t, err)
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, "join", te.Node)
}
