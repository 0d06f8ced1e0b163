package telemetry

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/justpipe/justpipe/internal/domain"
)

// Metrics records JustPipe's runtime counters through OTel meter
// instruments, grounded on nevindra-oasis's observer.Instruments
// (go.opentelemetry.io/otel/metric + go.opentelemetry.io/otel/sdk/metric).
// This package implements the metrics/tracer shape the teacher's
// ports.MetricsCollector/ports.Tracer describe concretely rather than
// leaving it as an adapter port: observability is core to JustPipe, not a
// pluggable infrastructure concern layered on top the way it is for the
// teacher's CLI.
//
// No exporter is wired here — callers supply their own metric.Meter (an
// otel.Meter(...) backed by whatever MeterProvider they configured, or the
// OTel no-op default when they configure nothing). RuntimeMetrics on the
// FINISH event is instead read back from the process-local atomic
// counters this struct also keeps, so a run's summary never depends on a
// reader being attached to the meter provider.
type Metrics struct {
	stepName string // attribute carried on every metric this run records

	tasksSpawned   metric.Int64Counter
	stepsStarted   metric.Int64Counter
	stepsSucceeded metric.Int64Counter
	stepsFailed    metric.Int64Counter
	stepDuration   metric.Float64Histogram
	barrierWait    metric.Float64Histogram
	mapWorkerPeak  metric.Int64UpDownCounter

	// process-local mirrors, so FINISH.RuntimeMetrics never depends on a
	// meter reader being attached.
	snapTasksSpawned      atomic.Int64
	snapStepsStarted      atomic.Int64
	snapStepsSucceeded    atomic.Int64
	snapStepsFailed       atomic.Int64
	snapMapWorkerCurrent  atomic.Int64
	snapMapWorkerPeak     atomic.Int64
	snapBarrierWaitTotal  atomic.Int64 // nanoseconds
	snapStepDurationTotal atomic.Int64 // nanoseconds
}

// NewMetrics creates the instrument set against meter. pipelineName tags
// every recorded metric so a shared MeterProvider (one per process) can
// still distinguish runs of different pipelines.
func NewMetrics(meter metric.Meter, pipelineName string) (*Metrics, error) {
	m := &Metrics{stepName: pipelineName}

	var err error
	if m.tasksSpawned, err = meter.Int64Counter("justpipe.tasks.spawned",
		metric.WithDescription("Goroutines spawned for step/worker/hook execution"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if m.stepsStarted, err = meter.Int64Counter("justpipe.steps.started",
		metric.WithDescription("Step invocations started"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, err
	}
	if m.stepsSucceeded, err = meter.Int64Counter("justpipe.steps.succeeded",
		metric.WithDescription("Step invocations that completed without error"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, err
	}
	if m.stepsFailed, err = meter.Int64Counter("justpipe.steps.failed",
		metric.WithDescription("Step invocations that completed with an error"),
		metric.WithUnit("{invocation}")); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("justpipe.step.duration",
		metric.WithDescription("Step invocation wall-clock duration"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.barrierWait, err = meter.Float64Histogram("justpipe.barrier.wait",
		metric.WithDescription("Time a barrier spent waiting for its parents"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if m.mapWorkerPeak, err = meter.Int64UpDownCounter("justpipe.map.workers.inflight",
		metric.WithDescription("In-flight MAP worker goroutines"),
		metric.WithUnit("{worker}")); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordSpawn accounts for one goroutine spawned by the kernel.
func (m *Metrics) RecordSpawn(ctx context.Context) {
	if m == nil {
		return
	}
	m.tasksSpawned.Add(ctx, 1, metric.WithAttributes(attribute.String("pipeline", m.stepName)))
	m.snapTasksSpawned.Add(1)
}

// RecordMapWorkerDelta adjusts the in-flight MAP worker gauge by delta
// (positive on spawn, negative on completion), and tracks the running peak
// for RuntimeMetrics.MapWorkerPeak.
func (m *Metrics) RecordMapWorkerDelta(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.mapWorkerPeak.Add(ctx, delta, metric.WithAttributes(attribute.String("pipeline", m.stepName)))
	current := m.snapMapWorkerCurrent.Add(delta)
	for {
		peak := m.snapMapWorkerPeak.Load()
		if current <= peak {
			break
		}
		if m.snapMapWorkerPeak.CompareAndSwap(peak, current) {
			break
		}
	}
}

// RecordStepDuration records one step invocation's duration and
// success/failure outcome.
func (m *Metrics) RecordStepDuration(ctx context.Context, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	attrs := metric.WithAttributes(attribute.String("pipeline", m.stepName))
	m.stepDuration.Record(ctx, ms, attrs)
	m.snapStepDurationTotal.Add(int64(d))
	if failed {
		m.stepsFailed.Add(ctx, 1, attrs)
		m.snapStepsFailed.Add(1)
	} else {
		m.stepsSucceeded.Add(ctx, 1, attrs)
		m.snapStepsSucceeded.Add(1)
	}
}

// RecordBarrierWait records the time a barrier spent waiting for its
// parents before release or timeout.
func (m *Metrics) RecordBarrierWait(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d) / float64(time.Millisecond)
	m.barrierWait.Record(ctx, ms, metric.WithAttributes(attribute.String("pipeline", m.stepName)))
	m.snapBarrierWaitTotal.Add(int64(d))
}

// Record updates step-start counters directly from the published event
// stream, so pipelines that never call the explicit Record* helpers
// (startup/shutdown hooks, for instance) still contribute STEP_START
// counts to RuntimeMetrics.
func (m *Metrics) Record(ev *domain.Event) {
	if m == nil || ev == nil {
		return
	}
	if ev.Type == domain.EventStepStart {
		m.stepsStarted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("pipeline", m.stepName)))
		m.snapStepsStarted.Add(1)
	}
}

// Snapshot returns a point-in-time RuntimeMetrics reading from the
// process-local mirrors, attached to a run's FINISH event.
func (m *Metrics) Snapshot(eventsPublished int64) domain.RuntimeMetrics {
	if m == nil {
		return domain.RuntimeMetrics{EventsPublished: eventsPublished}
	}
	return domain.RuntimeMetrics{
		TasksSpawned:      m.snapTasksSpawned.Load(),
		StepsStarted:      m.snapStepsStarted.Load(),
		StepsSucceeded:    m.snapStepsSucceeded.Load(),
		StepsFailed:       m.snapStepsFailed.Load(),
		EventsPublished:   eventsPublished,
		MapWorkerPeak:     m.snapMapWorkerPeak.Load(),
		BarrierWaitTotal:  time.Duration(m.snapBarrierWaitTotal.Load()),
		StepDurationTotal: time.Duration(m.snapStepDurationTotal.Load()),
	}
}
