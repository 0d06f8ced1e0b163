package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

// Publisher is the one place every event a run produces passes through:
// prepare (assign sequence number, timestamp, run lineage) -> event hooks
// -> observer dispatch -> metrics update -> delivery to the
// run's output stream. Grounded on
// internal/infrastructure/events/logging_publisher.go's handler-list +
// structured-log-fallback shape, generalized from a single logging sink
// into the hook/observer/metrics pipeline spec.md §4.9 describes.
//
// Publisher itself does no locking: every Publish call is expected to
// originate from the run's single serialized consumer loop (the same
// discipline that keeps internal/barrier and the failure journal mutex-free
// too), mirroring the reference implementation's single-threaded event
// loop. Only the sequence and published-event counters are atomic, since
// RuntimeMetrics readers may inspect them concurrently with the run still
// in flight.
type Publisher struct {
	seq atomic.Uint64

	runID       string
	originRunID string

	hooks     []graph.EventHook
	observers []Observer
	metrics   *Metrics
	out       chan<- *domain.Event

	state  any
	runCtx any

	eventsPublished atomic.Int64
}

// NewPublisher builds a Publisher for one run. out is the channel
// RunHandle.Events() reads from; hooks/observers come from the frozen
// registry (graph.Registry.EventHooks / CastObservers(registry.Observers())).
// metrics may be nil, in which case metric recording is skipped. state and
// runCtx are the run's own State/RunCtx pointers, forwarded verbatim to
// every OnPipelineStart/OnPipelineEnd/OnPipelineError call so observers see
// them exactly as spec.md §4.9's observer contract describes.
func NewPublisher(runID, originRunID string, hooks []graph.EventHook, observers []Observer, metrics *Metrics, out chan<- *domain.Event, state, runCtx any) *Publisher {
	return &Publisher{
		runID:       runID,
		originRunID: originRunID,
		hooks:       hooks,
		observers:   observers,
		metrics:     metrics,
		out:         out,
		state:       state,
		runCtx:      runCtx,
	}
}

// PublishPipelineStart dispatches OnPipelineStart to every registered
// observer, once, before any step is scheduled.
func (p *Publisher) PublishPipelineStart(meta ObserverMeta) {
	for _, o := range p.observers {
		o.OnPipelineStart(p.state, p.runCtx, meta)
	}
}

// PublishPipelineEnd dispatches OnPipelineEnd to every registered observer
// once the run has settled successfully.
func (p *Publisher) PublishPipelineEnd(meta ObserverMeta, duration time.Duration) {
	for _, o := range p.observers {
		o.OnPipelineEnd(p.state, p.runCtx, meta, duration)
	}
}

// PublishPipelineError dispatches OnPipelineError to every registered
// observer once the run has settled with a terminal failure.
func (p *Publisher) PublishPipelineError(meta ObserverMeta, err error) {
	for _, o := range p.observers {
		o.OnPipelineError(p.state, p.runCtx, meta, err)
	}
}

// Publish finalizes ev (sequence number, timestamp, run lineage defaults)
// and drives it through hooks, observers, and metrics before delivering it
// to the output channel. Publish blocks on the output channel exactly like
// spec.md §5's "every event publication awaits the bounded queue"
// suspension point.
func (p *Publisher) Publish(ev *domain.Event) {
	p.prepare(ev)

	for _, h := range p.hooks {
		if h != nil {
			h(ev)
		}
	}

	for _, o := range p.observers {
		o.OnEvent(ev)
	}

	if p.metrics != nil {
		p.metrics.Record(ev)
	}

	p.eventsPublished.Add(1)

	if p.out != nil {
		p.out <- ev
	}
}

func (p *Publisher) prepare(ev *domain.Event) {
	ev.Seq = p.seq.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.RunID == "" {
		ev.RunID = p.runID
	}
	if ev.OriginRunID == "" {
		ev.OriginRunID = p.originRunID
	}
}

// EventsPublished returns the running count of events this Publisher has
// delivered, the source for RuntimeMetrics.EventsPublished on FINISH.
func (p *Publisher) EventsPublished() int64 { return p.eventsPublished.Load() }

// EmitStepError implements failure.Emitter: publishes a STEP_ERROR event
// carrying err, fulfilling the terminal leg of the Handler's escalation.
// ctx is the failed invocation's own context, so the step's accumulated
// Step-scope meta (spec.md §4.10) rides along on the event instead of
// vanishing once the invocation goroutine returns. Grounded on
// original_source's step_execution_coordinator.py:126-135.
func (p *Publisher) EmitStepError(ctx context.Context, stepName string, err error, inv domain.InvocationContext) {
	p.Publish(&domain.Event{
		Type:               domain.EventStepError,
		Stage:              stepName,
		Payload:            err,
		NodeKind:           inv.NodeKind,
		InvocationID:       inv.InvocationID,
		ParentInvocationID: inv.ParentInvocationID,
		OwnerInvocationID:  inv.OwnerInvocationID,
		Attempt:            inv.Attempt,
		Scope:              inv.Scope,
		Meta:               stepMetaSnapshot(ctx),
	})
}

// EmitCancelled implements failure.Emitter: publishes a CANCELLED event for
// a step that exited via the cooperative-cancellation sentinel.
func (p *Publisher) EmitCancelled(stepName string, message string, inv domain.InvocationContext) {
	p.Publish(&domain.Event{
		Type:               domain.EventCancelled,
		Stage:              stepName,
		Payload:            message,
		NodeKind:           inv.NodeKind,
		InvocationID:       inv.InvocationID,
		ParentInvocationID: inv.ParentInvocationID,
		OwnerInvocationID:  inv.OwnerInvocationID,
		Attempt:            inv.Attempt,
		Scope:              inv.Scope,
	})
}

// EmitToken implements invoker.TokenEmitter: publishes one TOKEN event per
// value a streaming step yields.
func (p *Publisher) EmitToken(stepName string, token any, inv domain.InvocationContext) {
	p.Publish(&domain.Event{
		Type:               domain.EventToken,
		Stage:              stepName,
		Payload:            token,
		NodeKind:           inv.NodeKind,
		InvocationID:       inv.InvocationID,
		ParentInvocationID: inv.ParentInvocationID,
		OwnerInvocationID:  inv.OwnerInvocationID,
		Attempt:            inv.Attempt,
		Scope:              inv.Scope,
	})
}
