// Package orchestrator drives a single run: it owns the kernel's message
// loop and is the only place internal/barrier's Transition and
// internal/failure's Journal are touched, serializing both without a mutex
// by construction (one goroutine reads kernel.Queue()). It wires
// internal/graph, internal/barrier, internal/kernel, internal/invoker,
// internal/scheduler, internal/failure, and internal/telemetry together
// into the START -> startup hooks -> schedule roots -> drain queue ->
// shutdown hooks -> resolve status -> FINISH sequence.
//
// Grounded on original_source's
// _internal/runtime/orchestration/orchestrator.go (sic, orchestrator.py)
// for the forwarding shape, lifecycle_manager.py for hook execution, and
// scheduler.py for map/sub-pipeline scheduling, and on the teacher's
// internal/app/pipeline/service.go for the idea of a single composition
// root wiring every port together.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justpipe/justpipe/internal/barrier"
	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/failure"
	"github.com/justpipe/justpipe/internal/graph"
	"github.com/justpipe/justpipe/internal/invoker"
	"github.com/justpipe/justpipe/internal/kernel"
	"github.com/justpipe/justpipe/internal/scheduler"
	"github.com/justpipe/justpipe/internal/telemetry"
)

// SubRunner runs a nested pipeline definition (the opaque Sub/SubState
// carried on an OutcomeRun Action) and returns the sub-run's own event
// stream. The orchestrator has no business knowing the concrete
// Pipeline[S,C] type a SUB step closes over — that type lives in the root
// justpipe package, which is the only thing both constructs a Pipeline and
// builds an orchestrator.Config, so it supplies this function rather than
// the orchestrator importing the root package (which would be a cycle).
type SubRunner func(ctx context.Context, sub any, subState any, runCtx any) (<-chan *domain.Event, error)

// Config bundles everything one Run needs: the frozen, validated registry
// and its compiled Plan, the caller's opaque State/Context values, queue
// sizing, and the telemetry fan-out (metrics/tracer are optional — both
// internal/telemetry types are nil-receiver-safe).
type Config struct {
	Registry *graph.Registry
	Plan     *graph.Plan

	State  any
	RunCtx any

	QueueSize int

	PipelineName string
	PipelineMeta map[string]any

	Metrics *telemetry.Metrics
	Tracer  *telemetry.Tracer

	RunSub SubRunner
}

// Handle is the running (or finished) run's external handle: the caller
// drains Events until it closes, then reads the terminal Status/error from
// Wait.
type Handle struct {
	events chan *domain.Event
	done   chan struct{}

	mu     sync.Mutex
	status domain.Status
	err    error

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    bool
}

// Events returns the run's totally-ordered event stream. It is closed
// after FINISH has been sent.
func (h *Handle) Events() <-chan *domain.Event { return h.events }

// Close requests early termination (spec.md §6: closing the consumer side
// resolves the run as client_closed). Safe to call more than once and
// safe to call after the run has already finished on its own.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.cancel()
	})
}

// Wait blocks until the run has fully settled and returns its terminal
// status and error (non-nil only for STATUS_FAILED-class outcomes; a
// cancelled/timed-out/client-closed run reports its Status with a nil
// error, matching spec.md §7's "these are not bugs" framing).
func (h *Handle) Wait() (domain.Status, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status, h.err
}

// Run starts a pipeline run in the background and returns immediately with
// a Handle. ctx bounds the whole run (a deadline or external cancel both
// funnel into the same cooperative-stop path as Handle.Close).
func Run(ctx context.Context, cfg Config) *Handle {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = kernel.DefaultQueueSize
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		events: make(chan *domain.Event, queueSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(h.done)
		defer cancel()
		status, err := runOnce(runCtx, cfg, h)
		h.mu.Lock()
		h.status, h.err = status, err
		h.mu.Unlock()
		close(h.events)
	}()

	return h
}

// Failed returns an already-finished Handle reporting err as a terminal
// failure without ever scheduling a step. The root justpipe package uses
// this for construction-time failures (invalid RunOptions, a registry that
// doesn't pass Validate) that need to surface through the same Handle/Wait
// surface a real run does, rather than a distinct error-returning path.
func Failed(err error) *Handle {
	h := &Handle{
		events: make(chan *domain.Event),
		done:   make(chan struct{}),
		cancel: func() {},
		status: domain.StatusFailed,
		err:    err,
	}
	close(h.events)
	close(h.done)
	return h
}

// run is the per-invocation state every goroutine spawned for this run
// shares: the kernel, registry/plan, barrier state, failure handler,
// scheduler bookkeeping, telemetry fan-out, and run identity. It is built
// once per Run call and threaded by pointer into every step-execution
// goroutine — exactly the composition-root object the teacher's
// ExecutionContext plays in internal/engine.
type run struct {
	cfg Config

	k          *kernel.Kernel
	gctx       context.Context
	publisher  *telemetry.Publisher
	invoker    *invoker.Invoker
	failureH   *failure.Handler
	journal    *failure.Journal
	barrierSt  *barrier.State
	mapTracker *scheduler.MapTracker
	meta       *telemetry.Meta
	obsMeta    telemetry.ObserverMeta

	runID           string
	invocations     int
	pendingOwnerEnd map[string]*domain.Event // invocation id -> deferred MAP/SUB owner STEP_END
	mu              sync.Mutex               // guards invocation-id/attempt counters, barrier/map state, and pendingOwnerEnd

	watchersMu sync.Mutex
	watchers   map[string]*barrier.Watcher
}

func runOnce(ctx context.Context, cfg Config, h *Handle) (status domain.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = domain.StatusFailed
			err = fmt.Errorf("justpipe: internal panic: %v", r)
		}
	}()

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = kernel.DefaultQueueSize
	}

	k, gctx := kernel.New(ctx, queueSize)
	journal := failure.NewJournal()
	runID := uuid.NewString()

	observers, obsErr := telemetry.CastObservers(cfg.Registry.Observers())
	if obsErr != nil {
		return domain.StatusFailed, fmt.Errorf("justpipe: %w", obsErr)
	}
	if len(observers) == 0 {
		observers = []telemetry.Observer{telemetry.NewLogObserver(telemetry.LogObserverOptions{})}
	}

	publisher := telemetry.NewPublisher(runID, runID, cfg.Registry.EventHooks(), observers, cfg.Metrics, h.events, cfg.State, cfg.RunCtx)
	k.SetHooks(func(int) { cfg.Metrics.RecordSpawn(gctx) }, nil)

	pipelineMeta := make(map[string]any, len(cfg.PipelineMeta)+1)
	for k, v := range cfg.PipelineMeta {
		pipelineMeta[k] = v
	}
	if cfg.PipelineName != "" {
		pipelineMeta["name"] = cfg.PipelineName
	}

	startedAt := time.Now()
	r := &run{
		cfg:        cfg,
		k:          k,
		gctx:       gctx,
		publisher:  publisher,
		invoker:    invoker.New(cfg.Registry, publisher),
		failureH:   newFailureHandler(cfg.Registry, journal, publisher),
		journal:    journal,
		barrierSt:  barrier.NewState(cfg.Plan),
		mapTracker: scheduler.NewMapTracker(),
		meta: &telemetry.Meta{
			Pipeline: telemetry.NewPipelineMeta(pipelineMeta),
			Run:      telemetry.NewScopedMeta(),
		},
		obsMeta:  telemetry.ObserverMeta{PipelineName: cfg.PipelineName, RunID: runID, StartedAt: startedAt},
		runID:    runID,
		watchers: make(map[string]*barrier.Watcher),
	}

	publisher.PublishPipelineStart(r.obsMeta)
	r.publish(&domain.Event{Type: domain.EventStart, NodeKind: domain.NodeStep})

	if startupErr := r.runStartupHooks(gctx); startupErr != nil {
		journal.Record(failure.Record{
			Kind: failure.KindStartup, Source: failure.SourceUserCode,
			Reason: failure.ReasonStartupHookError, Message: startupErr.Error(), Err: startupErr,
		})
		r.publish(&domain.Event{Type: domain.EventStepError, Stage: "startup", Payload: startupErr})
	} else {
		for _, rootName := range cfg.Plan.Roots {
			r.scheduleFresh(rootName, rootName, domain.InvocationContext{})
		}
	}

	r.drain(gctx)

	_ = k.Wait()

	r.recordEarlyStop(ctx, h)

	r.runShutdownHooks(context.Background())

	finalStatus := journal.Resolve()
	duration := time.Since(startedAt)
	r.publish(&domain.Event{
		Type: domain.EventFinish,
		Payload: domain.FinishPayload{
			Status:   finalStatus,
			Duration: duration,
			Failure:  journal.Summary(),
			Metrics:  cfg.Metrics.Snapshot(publisher.EventsPublished()),
			Meta:     r.meta.Run.Snapshot(),
		},
	})

	if finalStatus == domain.StatusFailed {
		publisher.PublishPipelineError(r.obsMeta, journal.Err())
	} else {
		publisher.PublishPipelineEnd(r.obsMeta, duration)
	}

	return finalStatus, nil
}

// recordEarlyStop classifies why the run's context ended, if it did, and
// records the matching terminal reason in the journal so Resolve reports
// client_closed/cancelled/timeout instead of silently falling through to
// success just because no step itself ever failed (spec.md §6/§7). An
// explicit Handle.Close takes precedence over a simultaneously-expiring
// parent deadline, since closing is the caller's deliberate action.
func (r *run) recordEarlyStop(ctx context.Context, h *Handle) {
	if ctx.Err() == nil {
		return
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()

	reason := failure.ReasonCancelled
	switch {
	case closed:
		reason = failure.ReasonClientClosed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		reason = failure.ReasonTimeout
	}

	r.journal.Record(failure.Record{
		Kind: failure.KindInfra, Source: failure.SourceFramework,
		Reason: reason, Message: ctx.Err().Error(), Err: ctx.Err(),
	})
}

// publish sends ev through the kernel's serialized queue rather than
// straight to the telemetry publisher, so control-flow events (START,
// FINISH, startup/shutdown failures) interleave correctly with events
// produced by concurrently running steps instead of racing ahead of them.
func (r *run) publish(ev *domain.Event) {
	_ = r.k.Submit(r.gctx, kernel.RuntimeEvent{Event: ev})
}

// nextInvocationID allocates a fresh invocation id (the run id plus a
// per-run counter) for a brand-new (non-retry) scheduling of a step.
func (r *run) nextInvocationID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invocations++
	return fmt.Sprintf("%s-%d", r.runID, r.invocations)
}

func (r *run) nodeKindFor(name string) domain.NodeKind {
	step, ok := r.cfg.Registry.Step(name)
	if !ok {
		return domain.NodeStep
	}
	switch step.Kind {
	case domain.KindMap:
		return domain.NodeMap
	case domain.KindSwitch:
		return domain.NodeSwitch
	case domain.KindSub:
		return domain.NodeSub
	default:
		return domain.NodeStep
	}
}

// drain is the run's single-threaded consumer loop: it is the only place
// kernel.Message values are interpreted, which is what lets
// internal/barrier.Transition and the failure journal be touched without a
// mutex of their own.
func (r *run) drain(ctx context.Context) {
	for {
		if !r.k.Tracker().IsActive() {
			return
		}
		select {
		case msg, ok := <-r.k.Queue():
			if !ok {
				return
			}
			r.handle(ctx, msg)
		case <-ctx.Done():
			r.k.RequestStop()
			r.releaseAllWatchers()
			// Drain whatever is already queued so no STEP_END/ERROR for
			// in-flight work is silently lost, then fall through once the
			// tracker goes idle (every spawned goroutine observes gctx and
			// returns).
			for r.k.Tracker().IsActive() {
				select {
				case msg, ok := <-r.k.Queue():
					if !ok {
						return
					}
					r.handle(ctx, msg)
				case <-time.After(50 * time.Millisecond):
				}
			}
			return
		}
	}
}

func (r *run) handle(ctx context.Context, msg kernel.Message) {
	switch m := msg.(type) {
	case kernel.RuntimeEvent:
		r.publisher.Publish(m.Event)
	case kernel.StepCompleted:
		r.onStepCompleted(ctx, m)
	}
}
