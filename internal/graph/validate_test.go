package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justpipe/justpipe/internal/domain"
)

func plainStep(name string, to ...string) *domain.Step {
	return &domain.Step{Name: name, Kind: domain.KindPlain, To: to}
}

func buildFrozen(t *testing.T, steps ...*domain.Step) *Registry {
	t.Helper()
	r := New()
	for _, s := range steps {
		require.NoError(t, r.AddStep(s))
	}
	return r.Freeze()
}

func TestValidateRejectsEmptyPipeline(t *testing.T) {
	r := New().Freeze()
	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestValidateAcceptsLinearChain(t *testing.T) {
	r := buildFrozen(t,
		plainStep("a", "b"),
		plainStep("b", "c"),
		plainStep("c"),
	)
	assert.NoError(t, Validate(r))
}

func TestValidateRejectsUnknownTarget(t *testing.T) {
	r := buildFrozen(t, plainStep("a", "nonexistent"))
	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered step")
}

func TestValidateUnknownTargetSuggestsClosestName(t *testing.T) {
	r := buildFrozen(t, plainStep("a", "validat"), plainStep("validate"))
	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "validate"?`)
}

func TestValidateDetectsCycle(t *testing.T) {
	r := buildFrozen(t,
		plainStep("a", "b"),
		plainStep("b", "c"),
		plainStep("c", "a"),
	)
	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidateRejectsWorkerTrap(t *testing.T) {
	r := New()
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "fanout", Kind: domain.KindMap, MapEach: "worker", To: []string{"join"},
	}))
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "worker", Kind: domain.KindPlain, To: []string{"join"}, // trap: worker declares `to`
	}))
	require.NoError(t, r.AddStep(plainStep("join")))
	r.Freeze()

	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker trap")
}

func TestValidateBeforeFreezeErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.AddStep(plainStep("a")))
	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before Freeze")
}

func TestSuggestName(t *testing.T) {
	candidates := []string{"validate", "install", "cleanup"}
	assert.Equal(t, "validate", suggestName("validat", candidates))
	assert.Equal(t, "", suggestName("zzzzzzzzzz", candidates))
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"a", "", 1},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"step", "step", 0},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, levenshtein(c.a, c.b), "%q vs %q", c.a, c.b)
	}
}
