// Package kernel owns the runtime's structured-concurrency primitives: a
// bounded message queue, a task-group scope spawned goroutines run inside,
// and accounting of how many physical/logical tasks are still in flight.
// Grounded on the teacher's goroutine+WaitGroup+channel-semaphore idiom in
// internal/engine/executor.go, generalized from "run one DAG level, wait,
// next level" to a dynamic spawn model driven by barrier transitions, and
// on original_source's _internal/shared/execution_tracker.py +
// _internal/runtime/orchestration/runtime_kernel.py for the accounting
// rules themselves.
package kernel

import "sync"

// Tracker counts in-flight work two ways: physical tasks (every goroutine
// spawned, including barrier watchers and map workers) and logical tasks
// per "owner" step (a MAP step's many workers all share one owner, so the
// pipeline knows when *all* of a step's work — not just one goroutine — has
// finished). Ported field-for-field from execution_tracker.py.
type Tracker struct {
	mu            sync.Mutex
	totalActive   int
	logicalActive map[string]int
	skippedOwners map[string]bool
	stopping      bool
}

// NewTracker returns an empty tracker for a single run.
func NewTracker() *Tracker {
	return &Tracker{logicalActive: make(map[string]int)}
}

// totalActiveSnapshot returns the current physical task count, used only
// for the optional on-spawn metrics callback.
func (t *Tracker) totalActiveSnapshot() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalActive
}

// IsActive reports whether any physical task is still outstanding; the
// orchestrator's main loop runs until this goes false.
func (t *Tracker) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalActive > 0
}

// RecordSpawn registers a new physical task, and (when trackOwner is true)
// bumps the logical count for owner — used for MAP workers, where several
// physical goroutines share one logical owner.
func (t *Tracker) RecordSpawn(owner string, trackOwner bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trackOwner {
		t.logicalActive[owner]++
	}
	t.totalActive++
}

// RecordPhysicalCompletion marks one goroutine as finished.
func (t *Tracker) RecordPhysicalCompletion() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalActive--
}

// RecordLogicalCompletion decrements owner's logical count and reports
// whether that was the last outstanding task for it (e.g. the last MAP
// worker finishing triggers MAP_COMPLETE).
func (t *Tracker) RecordLogicalCompletion(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logicalActive[owner]--
	return t.logicalActive[owner] == 0
}

// RequestStop marks the run as winding down (e.g. on Stop/Suspend); new
// spawns are refused once set.
func (t *Tracker) RequestStop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopping = true
}

// Stopping reports whether RequestStop has been called.
func (t *Tracker) Stopping() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopping
}

// MarkSkipped records that owner's remaining scheduled work should be
// treated as already accounted for (e.g. a switch step that routed away
// from a sibling branch).
func (t *Tracker) MarkSkipped(owner string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.skippedOwners == nil {
		t.skippedOwners = make(map[string]bool)
	}
	t.skippedOwners[owner] = true
}

// ConsumeSkip reports whether owner was marked skipped, clearing the mark
// if so (a skip is consumed exactly once).
func (t *Tracker) ConsumeSkip(owner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.skippedOwners[owner] {
		delete(t.skippedOwners, owner)
		return true
	}
	return false
}
