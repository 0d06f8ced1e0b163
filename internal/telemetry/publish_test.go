package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

func TestPublisherAssignsIncreasingSeqAndDefaultsRunID(t *testing.T) {
	out := make(chan *domain.Event, 4)
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, nil, nil)

	p.Publish(&domain.Event{Stage: "a"})
	p.Publish(&domain.Event{Stage: "b"})

	first := <-out
	second := <-out
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, "run-1", first.RunID)
	assert.Equal(t, "run-1", first.OriginRunID)
	assert.False(t, first.Timestamp.IsZero())
}

func TestPublisherDoesNotOverwriteExplicitRunLineage(t *testing.T) {
	out := make(chan *domain.Event, 1)
	p := NewPublisher("parent-run", "top-run", nil, nil, nil, out, nil, nil)

	p.Publish(&domain.Event{Stage: "sub:a", RunID: "sub-run", OriginRunID: "sub-origin"})

	ev := <-out
	assert.Equal(t, "sub-run", ev.RunID, "an event forwarded from a sub-pipeline already carries its own run id")
	assert.Equal(t, "sub-origin", ev.OriginRunID)
}

func TestPublisherRunsEventHooksBeforeDelivery(t *testing.T) {
	out := make(chan *domain.Event, 1)
	var hookSawStage string
	hook := graph.EventHook(func(ev *domain.Event) { hookSawStage = ev.Stage })

	p := NewPublisher("run-1", "run-1", []graph.EventHook{hook}, nil, nil, out, nil, nil)
	p.Publish(&domain.Event{Stage: "ingest"})

	<-out
	assert.Equal(t, "ingest", hookSawStage)
}

func TestPublisherDispatchesToAllObservers(t *testing.T) {
	out := make(chan *domain.Event, 1)
	var a, b int
	observers := []Observer{
		ObserverFunc(func(ev *domain.Event) { a++ }),
		ObserverFunc(func(ev *domain.Event) { b++ }),
	}

	p := NewPublisher("run-1", "run-1", nil, observers, nil, out, nil, nil)
	p.Publish(&domain.Event{Stage: "ingest"})
	<-out

	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestPublisherEventsPublishedCounts(t *testing.T) {
	out := make(chan *domain.Event, 2)
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, nil, nil)

	p.Publish(&domain.Event{Stage: "a"})
	p.Publish(&domain.Event{Stage: "b"})
	<-out
	<-out

	assert.Equal(t, int64(2), p.EventsPublished())
}

func TestPublisherEmitStepErrorCarriesInvocationLineage(t *testing.T) {
	out := make(chan *domain.Event, 1)
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, nil, nil)

	inv := domain.InvocationContext{InvocationID: "inv-1", Attempt: 2, Scope: []string{"ingest"}}
	p.EmitStepError(context.Background(), "ingest", assertError("boom"), inv)

	ev := <-out
	require.Equal(t, domain.EventStepError, ev.Type)
	assert.Equal(t, "ingest", ev.Stage)
	assert.Equal(t, 2, ev.Attempt)
	assert.Equal(t, []string{"ingest"}, ev.Scope)
	assert.EqualError(t, ev.Payload.(error), "boom")
}

func TestPublisherEmitStepErrorSnapshotsStepMetaFromContext(t *testing.T) {
	out := make(chan *domain.Event, 1)
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, nil, nil)

	meta := &Meta{Step: NewScopedMeta()}
	meta.Step.Set("attempted_url", "https://example.test")
	ctx := WithMeta(context.Background(), meta)

	p.EmitStepError(ctx, "ingest", assertError("boom"), domain.InvocationContext{InvocationID: "inv-1"})

	ev := <-out
	require.NotNil(t, ev.Meta)
	data, ok := ev.Meta["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "https://example.test", data["attempted_url"])
}

func TestPublisherEmitStepErrorToleratesContextWithNoMeta(t *testing.T) {
	out := make(chan *domain.Event, 1)
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, nil, nil)

	p.EmitStepError(context.Background(), "ingest", assertError("boom"), domain.InvocationContext{})

	ev := <-out
	assert.Nil(t, ev.Meta)
}

func TestPublisherEmitCancelledAndEmitToken(t *testing.T) {
	out := make(chan *domain.Event, 2)
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, nil, nil)
	inv := domain.InvocationContext{InvocationID: "inv-1"}

	p.EmitCancelled("ingest", "stopped by consumer", inv)
	p.EmitToken("stream_step", 42, inv)

	cancelled := <-out
	token := <-out
	assert.Equal(t, domain.EventCancelled, cancelled.Type)
	assert.Equal(t, "stopped by consumer", cancelled.Payload)
	assert.Equal(t, domain.EventToken, token.Type)
	assert.Equal(t, 42, token.Payload)
}

func TestPublisherPipelineLifecycleHooksForwardStateAndRunCtx(t *testing.T) {
	out := make(chan *domain.Event, 1)
	type state struct{ Total int }
	type runCtx struct{ Env string }

	s := &state{Total: 7}
	rc := &runCtx{Env: "test"}
	p := NewPublisher("run-1", "run-1", nil, nil, nil, out, s, rc)

	var startState, endState, errState any
	var startRunCtx, endRunCtx, errRunCtx any
	var gotDuration time.Duration
	var gotErr error
	observer := &fakeLifecycleObserver{
		start: func(st, rc any, m ObserverMeta) { startState, startRunCtx = st, rc },
		end: func(st, rc any, m ObserverMeta, d time.Duration) {
			endState, endRunCtx, gotDuration = st, rc, d
		},
		err: func(st, rc any, m ObserverMeta, e error) {
			errState, errRunCtx, gotErr = st, rc, e
		},
	}
	p.observers = []Observer{observer}

	p.PublishPipelineStart(ObserverMeta{PipelineName: "orders", RunID: "run-1"})
	assert.Same(t, s, startState)
	assert.Same(t, rc, startRunCtx)

	p.PublishPipelineEnd(ObserverMeta{PipelineName: "orders", RunID: "run-1"}, 5*time.Second)
	assert.Same(t, s, endState)
	assert.Same(t, rc, endRunCtx)
	assert.Equal(t, 5*time.Second, gotDuration)

	p.PublishPipelineError(ObserverMeta{PipelineName: "orders", RunID: "run-1"}, assertError("boom"))
	assert.Same(t, s, errState)
	assert.Same(t, rc, errRunCtx)
	assert.EqualError(t, gotErr, "boom")
}

type assertError string

func (e assertError) Error() string { return string(e) }

// fakeLifecycleObserver lets TestPublisherPipelineLifecycleHooksForwardStateAndRunCtx
// inspect exactly which state/context values reach each hook.
type fakeLifecycleObserver struct {
	start func(state, runCtx any, meta ObserverMeta)
	end   func(state, runCtx any, meta ObserverMeta, duration time.Duration)
	err   func(state, runCtx any, meta ObserverMeta, err error)
}

func (f *fakeLifecycleObserver) OnPipelineStart(state, runCtx any, meta ObserverMeta) {
	f.start(state, runCtx, meta)
}

func (f *fakeLifecycleObserver) OnEvent(ev *domain.Event) {}

func (f *fakeLifecycleObserver) OnPipelineEnd(state, runCtx any, meta ObserverMeta, duration time.Duration) {
	f.end(state, runCtx, meta, duration)
}

func (f *fakeLifecycleObserver) OnPipelineError(state, runCtx any, meta ObserverMeta, err error) {
	f.err(state, runCtx, meta, err)
}
