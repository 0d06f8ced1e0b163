package orchestrator

import (
	"context"
	"time"

	"github.com/justpipe/justpipe/internal/barrier"
	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/failure"
)

// scheduleBarrierWatcher starts a timeout watch for node's barrier, which
// just received its first parent completion. The watcher goroutine either
// observes releaseWatcher (the barrier was satisfied) or times out, in
// which case the barrier's node is raised as a terminal, framework-sourced
// failure rather than ever starting.
func (r *run) scheduleBarrierWatcher(node string, timeout time.Duration) {
	w := barrier.NewWatcher(node)
	r.watchersMu.Lock()
	r.watchers[node] = w
	r.watchersMu.Unlock()

	start := time.Now()
	r.publish(&domain.Event{Type: domain.EventBarrierWait, Stage: node, Payload: domain.BarrierWaitPayload{Timeout: timeout}})

	r.k.Spawn(func(ctx context.Context) {
		err := w.Wait(ctx, timeout)

		r.watchersMu.Lock()
		delete(r.watchers, node)
		r.watchersMu.Unlock()

		r.cfg.Metrics.RecordBarrierWait(ctx, time.Since(start))

		switch {
		case err == nil:
			r.publish(&domain.Event{Type: domain.EventBarrierRelease, Stage: node, Payload: domain.BarrierReleasePayload{Duration: time.Since(start)}})
		case isBarrierTimeout(err):
			r.raiseFrameworkFailure(node, failure.ReasonBarrierTimeout, err)
		default:
			// ctx.Err(): the run itself is shutting down, which already
			// resolves its own terminal status; no separate bookkeeping
			// needed for a barrier that never got the chance to release.
		}
	}, node, false)
}

func isBarrierTimeout(err error) bool {
	_, ok := err.(*barrier.TimeoutError)
	return ok
}

// releaseWatcher releases node's in-flight barrier watcher, if any, so its
// goroutine stops waiting immediately instead of running out its timeout.
func (r *run) releaseWatcher(node string) {
	r.watchersMu.Lock()
	w := r.watchers[node]
	delete(r.watchers, node)
	r.watchersMu.Unlock()
	if w != nil {
		w.Release()
	}
}

// releaseAllWatchers releases every still-pending barrier watcher, used
// when the run is winding down early (cancellation/Close) so their
// goroutines don't block the kernel's Wait until their full timeout
// elapses.
func (r *run) releaseAllWatchers() {
	r.watchersMu.Lock()
	watchers := make([]*barrier.Watcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	r.watchers = make(map[string]*barrier.Watcher)
	r.watchersMu.Unlock()

	for _, w := range watchers {
		w.Release()
	}
}
