package kernel

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/justpipe/justpipe/internal/domain"
)

// Message is anything the kernel's bounded queue carries between a
// goroutine spawned for a step and the orchestrator's single-threaded
// consumer loop, which is the only place barrier.Transition and the
// failure journal are touched — serializing them without a mutex, the way
// the reference implementation's single-threaded asyncio event loop does
// implicitly. Ported from control.py's RuntimeEvent/StepCompleted union.
type Message interface{ isMessage() }

// RuntimeEvent carries a telemetry event through the queue so event
// publication happens on the same serialized loop as everything else.
type RuntimeEvent struct{ Event *domain.Event }

func (RuntimeEvent) isMessage() {}

// StepCompleted reports that one invocation of a step finished, carrying
// everything internal/scheduler needs to resolve the next action.
type StepCompleted struct {
	Owner           string
	Name            string
	Outcome         domain.Outcome
	Err             error
	TrackOwner      bool
	Invocation      domain.InvocationContext
	AlreadyTerminal bool
	StepMeta        map[string]any
}

func (StepCompleted) isMessage() {}

// Kernel owns the queue, the structured-concurrency scope every step
// goroutine is spawned into, and the task tracker. One Kernel exists per
// run.
type Kernel struct {
	tracker *Tracker
	queue   chan Message
	group   *errgroup.Group
	gctx    context.Context

	onSpawn            func(totalActive int)
	onSubmitQueueDepth func(depth int)
}

// New builds a kernel bound to ctx (cancelling ctx stops accepting new
// submissions and unblocks any goroutine selecting on it) with a queue of
// the given capacity. The returned context is the group's derived context:
// goroutines spawned via Spawn should observe it for cooperative
// cancellation exactly like the reference implementation's TaskGroup-scoped
// cancellation.
func New(ctx context.Context, queueSize int) (*Kernel, context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	k := &Kernel{
		tracker: NewTracker(),
		queue:   make(chan Message, queueSize),
		group:   g,
		gctx:    gctx,
	}
	return k, gctx
}

// Tracker exposes the kernel's task accounting.
func (k *Kernel) Tracker() *Tracker { return k.tracker }

// Queue exposes the receive side of the bounded message channel for the
// orchestrator's consumer loop.
func (k *Kernel) Queue() <-chan Message { return k.queue }

// SetHooks wires optional metrics callbacks invoked on spawn and submit,
// mirroring runtime_kernel.py's on_spawn/on_submit_queue_depth.
func (k *Kernel) SetHooks(onSpawn func(totalActive int), onSubmitQueueDepth func(depth int)) {
	k.onSpawn = onSpawn
	k.onSubmitQueueDepth = onSubmitQueueDepth
}

// Spawn launches fn in the kernel's structured-concurrency scope, tracked
// under owner. It is a no-op (fn never runs) once the tracker is stopping,
// matching the reference implementation's refusal to schedule new work
// after Stop/Suspend. fn must not panic; invoker wraps step code, and the
// orchestrator's resolveSwitch a SWITCH routing function, with their own
// recover so a user step's panic never reaches here.
func (k *Kernel) Spawn(fn func(ctx context.Context), owner string, trackOwner bool) bool {
	if k.tracker.Stopping() {
		return false
	}
	k.tracker.RecordSpawn(owner, trackOwner)
	if k.onSpawn != nil {
		k.onSpawn(k.tracker.totalActiveSnapshot())
	}
	k.group.Go(func() error {
		fn(k.gctx)
		return nil
	})
	return true
}

// Submit enqueues a message, blocking if the queue is full — this blocking
// send IS JustPipe's backpressure mechanism (spec.md §4.3): a producer
// naturally stalls rather than the queue growing without bound.
func (k *Kernel) Submit(ctx context.Context, msg Message) error {
	select {
	case k.queue <- msg:
		if k.onSubmitQueueDepth != nil {
			k.onSubmitQueueDepth(len(k.queue))
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestStop marks the run as winding down; no further Spawn calls will
// launch new goroutines.
func (k *Kernel) RequestStop() { k.tracker.RequestStop() }

// Wait blocks until every spawned goroutine has returned. Because Spawn's
// wrapped functions always return nil, Wait's error is always nil; it is
// kept in the signature so callers don't need a sentinel to remember that.
func (k *Kernel) Wait() error { return k.group.Wait() }
