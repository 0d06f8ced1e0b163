package graph

import (
	"sort"

	"github.com/justpipe/justpipe/internal/domain"
)

// Plan is the compiled execution topology handed to the orchestrator: the
// registry's steps plus derived parent lists, roots, and switch-sibling
// groups. Grounded on the teacher's engine.Graph/ExecutionPlan split
// (internal/engine/dag_builder.go, internal/engine/planner.go), generalized
// from a single dependency edge per step to JustPipe's forward-declared
// static/switch/map topology, and on original_source's
// _internal/graph/dependency_graph.py:build for the switch-sibling grouping
// that Streamy's DAG has no equivalent of.
type Plan struct {
	Registry *Registry

	// Parents maps a step name to every step that can statically fire it
	// (static `to`, switch route/default, or map completion target).
	Parents map[string][]string

	// Roots are steps with no parents: scheduled directly off START.
	Roots []string

	// SwitchSiblingGroups records, for each switch step, the set of target
	// step names fed exclusively by that switch's mutually exclusive
	// routes. A barrier fed only by siblings of the same switch group must
	// not wait on the ones that were not taken (spec.md §4.2).
	SwitchSiblingGroups map[string][]string
}

// staticSuccessors returns the step names a given step can statically fire
// on completion, independent of which outcome it returns at runtime.
// Map workers are intentionally excluded from their own successors (the
// worker-trap rule forbids them from declaring any); the owning MAP step's
// successors are its own `To`.
func staticSuccessors(step *domain.Step) []string {
	switch step.Kind {
	case domain.KindSwitch:
		out := make([]string, 0, len(step.SwitchRoutes)+1)
		for _, target := range step.SwitchRoutes {
			if target != "" {
				out = append(out, target)
			}
		}
		if step.SwitchDefault != "" {
			out = append(out, step.SwitchDefault)
		}
		return out
	default:
		return append([]string(nil), step.To...)
	}
}

// Compile derives the Plan from a frozen, validated registry. Validate must
// be called first; Compile assumes all targets exist and the graph is
// acyclic.
func Compile(r *Registry) *Plan {
	parents := make(map[string][]string)
	hasParent := make(map[string]bool)

	for _, step := range r.Steps() {
		for _, succ := range staticSuccessors(step) {
			parents[succ] = append(parents[succ], step.Name)
			hasParent[succ] = true
		}
		if step.Kind == domain.KindMap && step.MapEach != "" {
			parents[step.MapEach] = append(parents[step.MapEach], step.Name)
			hasParent[step.MapEach] = true
		}
	}

	var roots []string
	for _, name := range r.StepNames() {
		if !hasParent[name] {
			roots = append(roots, name)
		}
	}
	sort.Strings(roots)

	groups := make(map[string][]string)
	for _, step := range r.Steps() {
		if step.Kind != domain.KindSwitch {
			continue
		}
		targets := staticSuccessors(step)
		sort.Strings(targets)
		groups[step.Name] = targets
	}

	return &Plan{
		Registry:            r,
		Parents:             parents,
		Roots:               roots,
		SwitchSiblingGroups: groups,
	}
}

// SwitchGroupFor reports the switch step name whose sibling group contains
// target, and the full sibling set, if target is fed exclusively by one
// switch's routes. Used by internal/barrier to exempt untaken siblings from
// an ALL/ANY join.
func (p *Plan) SwitchGroupFor(target string) (owner string, siblings []string, ok bool) {
	for switchName, targets := range p.SwitchSiblingGroups {
		for _, t := range targets {
			if t == target {
				return switchName, targets, true
			}
		}
	}
	return "", nil, false
}
