// Package barrier tracks join state for steps with more than one parent:
// ALL barriers (every parent must complete), ANY barriers (the first parent
// completes and opens the step, with bookkeeping so a second parent in the
// same wave does not re-fire it), and switch-sibling exclusivity (children
// fed by mutually exclusive branches of a SWITCH never wait on the branch
// that was not taken).
//
// Transition is a pure function over State, ported field-for-field from
// original_source's _internal/graph/dependency_graph.py (_DependencyGraph.
// transition/_handle_any_barrier/_handle_all_barrier/_is_all_parents_completed),
// with the owning orchestrator's spawn/emit side effects left to the caller
// exactly as the teacher's internal/engine keeps Graph/ExecutionPlan free of
// scheduling side effects.
package barrier

import (
	"sort"
	"time"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

// State is the mutable per-run join tracker: required parents, parents
// completed so far in the current wave, and precomputed switch-sibling
// groups. It is not safe for concurrent use by itself; the orchestrator
// serializes calls to Transition through its single event-processing loop.
type State struct {
	parents       map[string][]string
	completed     map[string]map[string]bool
	anyOpen       map[string]bool
	siblingGroups map[string][]map[string]bool
}

// NewState derives a barrier State from a compiled plan, precomputing
// switch-sibling groups the same way dependency_graph.py's build() does:
// for every switch step, intersect its target set with each node's parent
// set, and record any intersection bigger than one as an exclusive group.
func NewState(plan *graph.Plan) *State {
	s := &State{
		parents:       plan.Parents,
		completed:     make(map[string]map[string]bool),
		anyOpen:       make(map[string]bool),
		siblingGroups: make(map[string][]map[string]bool),
	}

	var steps []*domain.Step
	if plan.Registry != nil {
		steps = plan.Registry.Steps()
	}
	for _, step := range steps {
		if step.Kind != domain.KindSwitch {
			continue
		}
		targets := toSet(plan.SwitchSiblingGroups[step.Name])
		for child, parents := range plan.Parents {
			group := intersect(targets, toSet(parents))
			if len(group) > 1 {
				s.siblingGroups[child] = append(s.siblingGroups[child], group)
			}
		}
	}

	return s
}

// TransitionResult mirrors the reference TransitionResult dataclass:
// which steps are now ready to start, which newly-multi-parent nodes need a
// barrier timeout watcher scheduled, and which in-flight watchers can be
// cancelled because their barrier was satisfied before the deadline.
type TransitionResult struct {
	StepsToStart      []string
	BarriersToSchedule []BarrierSchedule
	BarriersToCancel  []string
}

// BarrierSchedule is one barrier that just received its first parent
// completion and needs a timeout watcher.
type BarrierSchedule struct {
	Node    string
	Timeout time.Duration
}

// Transition processes the completion of completedNode and reports which
// successors are now ready, mirroring dependency_graph.py:transition. The
// successors function supplies the static/switch/map successor list (the
// caller passes graph.Plan-derived topology); stepLookup resolves a step's
// BarrierType/BarrierTimeout.
func Transition(s *State, completedNode string, successors []string, stepLookup func(name string) (*domain.Step, bool)) TransitionResult {
	var result TransitionResult

	for _, succ := range successors {
		step, _ := stepLookup(succ)
		barrierType := domain.BarrierAll
		var timeout time.Duration
		if step != nil {
			barrierType = step.EffectiveBarrierType()
			timeout = step.BarrierTimeout
		}
		parentsNeeded := s.parents[succ]

		// Schedule a barrier timeout watcher only for the first parent of a
		// multi-parent, non-ANY node, per spec.md §9 Open Question 3: ANY
		// barriers never schedule a timeout regardless of configuration —
		// confirmed intentional in the reference implementation.
		isFirst := len(s.completed[succ]) == 0
		if isFirst && len(parentsNeeded) > 1 && barrierType != domain.BarrierAny {
			if timeout > 0 {
				result.BarriersToSchedule = append(result.BarriersToSchedule, BarrierSchedule{Node: succ, Timeout: timeout})
			}
		}

		var shouldStart bool
		if barrierType == domain.BarrierAny {
			shouldStart = s.handleAny(succ, completedNode)
		} else {
			shouldStart = s.handleAll(succ, completedNode)
		}

		if shouldStart {
			if len(parentsNeeded) > 1 {
				result.BarriersToCancel = append(result.BarriersToCancel, succ)
			}
			result.StepsToStart = append(result.StepsToStart, succ)
		}
	}

	return result
}

func (s *State) handleAny(node, parent string) bool {
	if s.anyOpen[node] {
		s.markCompleted(node, parent)
		if s.allParentsCompleted(node) {
			s.resetProgress(node)
			s.anyOpen[node] = false
		}
		return false
	}

	s.markCompleted(node, parent)
	s.anyOpen[node] = true

	if s.allParentsCompleted(node) {
		s.resetProgress(node)
		s.anyOpen[node] = false
	}
	return true
}

func (s *State) handleAll(node, parent string) bool {
	s.markCompleted(node, parent)
	if s.allParentsCompleted(node) {
		s.resetProgress(node)
		return true
	}
	return false
}

func (s *State) markCompleted(node, parent string) {
	if s.completed[node] == nil {
		s.completed[node] = make(map[string]bool)
	}
	s.completed[node][parent] = true
}

func (s *State) resetProgress(node string) {
	s.completed[node] = make(map[string]bool)
}

// allParentsCompleted reports whether every parent still "required" for
// node has completed. Switch-sibling groups shrink the requirement: once
// any sibling in a mutually exclusive group has completed, the others are
// removed from the requirement (they are now unreachable for this wave).
func (s *State) allParentsCompleted(node string) bool {
	required := toSet(s.parents[node])
	completed := s.completed[node]

	for _, group := range s.siblingGroups[node] {
		if intersectsAny(completed, group) {
			for sibling := range group {
				if !completed[sibling] {
					delete(required, sibling)
				}
			}
		}
	}

	for p := range required {
		if !completed[p] {
			return false
		}
	}
	return true
}

// IsSatisfied reports whether node's barrier is currently met. Exposed for
// diagnostics/testing; Transition is the path the orchestrator drives.
func (s *State) IsSatisfied(node string) bool { return s.allParentsCompleted(node) }

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func intersectsAny(completed map[string]bool, group map[string]bool) bool {
	for k := range group {
		if completed[k] {
			return true
		}
	}
	return false
}

// sortedKeys is used only by tests that need deterministic output from a
// map; kept here rather than duplicated across _test.go files.
func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
