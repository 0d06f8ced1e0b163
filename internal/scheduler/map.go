package scheduler

// mapBatch tracks one MAP step's fan-out: how many worker invocations are
// still outstanding for a single `Map()` outcome. A MAP step can return
// `Map()` more than once across retries/waves, so batches queue per owner
// in FIFO order exactly like the reference implementation's list-based
// `_map_batches[owner]`.
type mapBatch struct {
	target            string
	itemCount         int
	remaining         int
	ownerInvocationID string
	ownerScope        []string
}

// CompletedBatch is what MapTracker reports once every worker in a batch
// (or, for a zero-item batch, the owner step itself) has finished.
type CompletedBatch struct {
	Target            string
	ItemCount         int
	OwnerInvocationID string
	OwnerScope        []string
}

// MapTracker accounts for in-flight MAP fan-outs across all MAP steps in a
// run. It is pure bookkeeping; the orchestrator is responsible for actually
// spawning worker goroutines and emitting MAP_START/MAP_WORKER/MAP_COMPLETE
// events around it. Ported from scheduler.py's `_map_batches` dict plus
// `handle_map`/`on_step_completed`.
type MapTracker struct {
	batches map[string][]*mapBatch
}

// NewMapTracker returns an empty tracker for a single run.
func NewMapTracker() *MapTracker {
	return &MapTracker{batches: make(map[string][]*mapBatch)}
}

// StartBatch records a new fan-out for owner: itemCount worker invocations
// about to be scheduled against target. Call this once per `Map()` outcome,
// before spawning any worker.
func (t *MapTracker) StartBatch(owner, target string, itemCount int, ownerInvocationID string, ownerScope []string) {
	t.batches[owner] = append(t.batches[owner], &mapBatch{
		target:            target,
		itemCount:         itemCount,
		remaining:         itemCount,
		ownerInvocationID: ownerInvocationID,
		ownerScope:        ownerScope,
	})
}

// OnStepCompleted reports step stepName finishing under owner, returning
// any batches that are now fully drained. When stepName equals owner, this
// drains any already-zero-item batches sitting at the head of the queue
// (empty `Map()` calls complete as soon as the owner step itself does,
// since no worker will ever report back). Otherwise it decrements the
// oldest batch still expecting a completion from target==stepName.
func (t *MapTracker) OnStepCompleted(owner, stepName string) []CompletedBatch {
	batches := t.batches[owner]
	if len(batches) == 0 {
		return nil
	}

	var completed []CompletedBatch

	if stepName == owner {
		for len(batches) > 0 && batches[0].remaining == 0 {
			b := batches[0]
			batches = batches[1:]
			completed = append(completed, toCompletedBatch(b))
		}
		t.storeOrDelete(owner, batches)
		return completed
	}

	for _, b := range batches {
		if b.target == stepName && b.remaining > 0 {
			b.remaining--
			if b.remaining == 0 {
				completed = append(completed, toCompletedBatch(b))
			}
			break
		}
	}

	for len(batches) > 0 && batches[0].remaining == 0 {
		batches = batches[1:]
	}
	t.storeOrDelete(owner, batches)

	return completed
}

func (t *MapTracker) storeOrDelete(owner string, batches []*mapBatch) {
	if len(batches) == 0 {
		delete(t.batches, owner)
		return
	}
	t.batches[owner] = batches
}

func toCompletedBatch(b *mapBatch) CompletedBatch {
	return CompletedBatch{
		Target:            b.target,
		ItemCount:         b.itemCount,
		OwnerInvocationID: b.ownerInvocationID,
		OwnerScope:        b.ownerScope,
	}
}
