package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/justpipe/justpipe/internal/domain"
)

// ValidationError collects every problem found in a single Validate pass,
// rather than failing on the first one, so a caller sees the whole picture
// at construction time instead of fixing issues one at a time. Modeled on
// the teacher's ValidateConfig returning a single streamyerrors.ValidationError
// per call, generalized here to accumulate because a step graph commonly has
// more than one broken reference at once.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("justpipe: invalid pipeline: %s", strings.Join(e.Problems, "; "))
}

// Validate checks a frozen registry's topology: at least one step, every
// static/switch/map target resolves to a registered step (hardened to a
// hard error per spec.md §9 Open Question 1 — an unregistered static target
// is a construction-time failure, never a silent warning; a dynamic Next
// target is only checked when it is scheduled at run time),
// no MAP worker step declares a static `to` (the "worker trap", spec.md
// §4.8), and the forward-edge graph is acyclic.
func Validate(r *Registry) error {
	if !r.Frozen() {
		return fmt.Errorf("justpipe: Validate called before Freeze")
	}

	var problems []string
	names := r.StepNames()

	if len(names) == 0 {
		problems = append(problems, "pipeline has no steps")
		return &ValidationError{Problems: problems}
	}

	mapWorkers := make(map[string]string) // worker name -> owning MAP step

	for _, step := range r.Steps() {
		for _, target := range staticSuccessors(step) {
			if _, ok := r.Step(target); !ok {
				problems = append(problems, unknownTargetMsg(step.Name, target, names))
			}
		}
		if step.Kind == domain.KindMap {
			if step.MapEach == "" {
				problems = append(problems, fmt.Sprintf("map step %q declares no worker (MapEach empty)", step.Name))
			} else if _, ok := r.Step(step.MapEach); !ok {
				problems = append(problems, unknownTargetMsg(step.Name, step.MapEach, names))
			} else {
				mapWorkers[step.MapEach] = step.Name
			}
		}
	}

	for worker, owner := range mapWorkers {
		ws, _ := r.Step(worker)
		if len(ws.To) > 0 {
			problems = append(problems, fmt.Sprintf(
				"step %q is the map worker for %q and must not declare a static `to` target (worker trap)", worker, owner))
		}
	}

	if cycle := detectCycle(r); len(cycle) > 0 {
		problems = append(problems, fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func unknownTargetMsg(from, target string, candidates []string) string {
	msg := fmt.Sprintf("step %q references unregistered step %q", from, target)
	if s := suggestName(target, candidates); s != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return msg
}

// detectCycle runs a DFS with an explicit recursion stack over the
// forward-edge graph (static `to`, switch routes/default, map worker
// target), sorting candidate starts for deterministic output. Ported from
// the teacher's internal/config/cycle_detector.go, generalized from a
// single depends_on edge list to JustPipe's multi-shaped successor sets.
func detectCycle(r *Registry) []string {
	edges := make(map[string][]string, len(r.StepNames()))
	for _, step := range r.Steps() {
		succ := staticSuccessors(step)
		if step.Kind == domain.KindMap && step.MapEach != "" {
			succ = append(succ, step.MapEach)
		}
		edges[step.Name] = succ
	}

	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string
	var cycle []string

	var dfs func(string) bool
	dfs = func(node string) bool {
		visiting[node] = true
		stack = append(stack, node)

		for _, next := range edges[node] {
			if _, ok := r.Step(next); !ok {
				continue // unknown targets are reported separately
			}
			if visiting[next] {
				idx := indexOf(stack, next)
				if idx >= 0 {
					cycle = append([]string{}, stack[idx:]...)
					cycle = append(cycle, next)
				}
				return true
			}
			if !visited[next] && dfs(next) {
				return true
			}
		}

		visiting[node] = false
		visited[node] = true
		stack = stack[:len(stack)-1]
		return false
	}

	names := r.StepNames()
	sort.Strings(names)
	for _, name := range names {
		if visited[name] {
			continue
		}
		if dfs(name) {
			break
		}
	}
	return cycle
}

func indexOf(stack []string, target string) int {
	for i, v := range stack {
		if v == target {
			return i
		}
	}
	return -1
}
