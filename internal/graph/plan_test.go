package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justpipe/justpipe/internal/domain"
)

func TestCompileRootsAndParents(t *testing.T) {
	r := buildFrozen(t,
		plainStep("a", "c"),
		plainStep("b", "c"),
		plainStep("c"),
	)
	plan := Compile(r)

	assert.ElementsMatch(t, []string{"a", "b"}, plan.Roots)
	assert.ElementsMatch(t, []string{"a", "b"}, plan.Parents["c"])
}

func TestCompileMapWorkerIsChildOfOwner(t *testing.T) {
	r := New()
	require.NoError(t, r.AddStep(&domain.Step{Name: "fanout", Kind: domain.KindMap, MapEach: "worker", To: []string{"join"}}))
	require.NoError(t, r.AddStep(&domain.Step{Name: "worker", Kind: domain.KindPlain}))
	require.NoError(t, r.AddStep(plainStep("join")))
	r.Freeze()

	plan := Compile(r)
	assert.Equal(t, []string{"fanout"}, plan.Parents["worker"])
	assert.Equal(t, []string{"fanout"}, plan.Parents["join"])
	assert.Equal(t, []string{"fanout"}, plan.Roots)
}

func TestCompileSwitchSiblingGroup(t *testing.T) {
	r := New()
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "route", Kind: domain.KindSwitch,
		SwitchRoutes:  map[string]string{"ok": "success", "err": "failure"},
		SwitchDefault: "fallback",
	}))
	require.NoError(t, r.AddStep(plainStep("success")))
	require.NoError(t, r.AddStep(plainStep("failure")))
	require.NoError(t, r.AddStep(plainStep("fallback")))
	r.Freeze()

	plan := Compile(r)
	owner, siblings, ok := plan.SwitchGroupFor("success")
	require.True(t, ok)
	assert.Equal(t, "route", owner)
	assert.ElementsMatch(t, []string{"success", "failure", "fallback"}, siblings)
}
