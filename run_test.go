package justpipe

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderState struct {
	Total int
}

type noContext struct{}

func TestRunLinearPipelineThroughPublicAPI(t *testing.T) {
	p, err := New[orderState, noContext]("linear")
	require.NoError(t, err)

	require.NoError(t, p.AddStep("charge", func(ctx context.Context, state *orderState, rc *noContext) (Outcome, error) {
		state.Total += 10
		return Next("ship"), nil
	}, WithSuccessors("ship")))
	require.NoError(t, p.AddStep("ship", func(ctx context.Context, state *orderState, rc *noContext) (Outcome, error) {
		state.Total += 1
		return Stop(), nil
	}, WithSuccessors()))

	state := &orderState{}
	h := Run(context.Background(), p, state, &noContext{})

	var started []string
	for ev := range h.Events() {
		if ev.Type == EventStepStart {
			started = append(started, ev.Stage)
		}
	}
	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, []string{"charge", "ship"}, started)
	assert.Equal(t, 11, state.Total)
}

func TestRunMapFanOutThroughPublicAPI(t *testing.T) {
	type batchState struct {
		Processed atomic.Int32
	}

	p, err := New[batchState, noContext]("batch")
	require.NoError(t, err)

	require.NoError(t, p.AddMap("split", "process", func(ctx context.Context, state *batchState, rc *noContext) (Outcome, error) {
		return MapOver("process", []int{1, 2, 3, 4}), nil
	}, WithSuccessors("done")))
	require.NoError(t, AddMapWorker(p, "process", func(ctx context.Context, item int, state *batchState, rc *noContext) (Outcome, error) {
		state.Processed.Add(int32(item))
		return Stop(), nil
	}))
	require.NoError(t, p.AddStep("done", func(ctx context.Context, state *batchState, rc *noContext) (Outcome, error) {
		return Stop(), nil
	}))

	state := &batchState{}
	h := Run(context.Background(), p, state, &noContext{})
	for range h.Events() {
	}
	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.EqualValues(t, 10, state.Processed.Load())
}

func TestRunSwitchThroughPublicAPI(t *testing.T) {
	type flagState struct {
		Route string
	}

	p, err := New[flagState, noContext]("routing")
	require.NoError(t, err)

	require.NoError(t, p.AddSwitch("route", func(ctx context.Context, state *flagState, rc *noContext) (string, error) {
		return "premium", nil
	}, map[string]string{"premium": "fastLane", "standard": "slowLane"}, "slowLane"))
	require.NoError(t, p.AddStep("fastLane", func(ctx context.Context, state *flagState, rc *noContext) (Outcome, error) {
		state.Route = "fast"
		return Stop(), nil
	}))
	require.NoError(t, p.AddStep("slowLane", func(ctx context.Context, state *flagState, rc *noContext) (Outcome, error) {
		state.Route = "slow"
		return Stop(), nil
	}))

	state := &flagState{}
	h := Run(context.Background(), p, state, &noContext{})
	for range h.Events() {
	}
	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, "fast", state.Route)
}

func TestRunSubPipelineThroughPublicAPI(t *testing.T) {
	type wrapState struct {
		InnerRan bool
	}

	inner, err := New[wrapState, noContext]("inner")
	require.NoError(t, err)
	require.NoError(t, inner.AddStep("mark", func(ctx context.Context, state *wrapState, rc *noContext) (Outcome, error) {
		state.InnerRan = true
		return Stop(), nil
	}))

	outer, err := New[wrapState, noContext]("outer")
	require.NoError(t, err)
	require.NoError(t, outer.AddSub("launch", func(ctx context.Context, state *wrapState, rc *noContext) (Outcome, error) {
		return RunSub(inner, state), nil
	}))

	state := &wrapState{}
	h := Run(context.Background(), outer, state, &noContext{})

	var sawRewrittenStage bool
	for ev := range h.Events() {
		if ev.Type == EventStepStart && ev.Stage == "launch:mark" {
			sawRewrittenStage = true
		}
	}
	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.True(t, state.InnerRan)
	assert.True(t, sawRewrittenStage)
}

func TestRunReportsValidationFailureThroughWait(t *testing.T) {
	p, err := New[orderState, noContext]("broken")
	require.NoError(t, err)
	require.NoError(t, p.AddStep("a", func(ctx context.Context, state *orderState, rc *noContext) (Outcome, error) {
		return Next("nonexistent"), nil
	}, WithSuccessors("nonexistent")))

	h := Run(context.Background(), p, &orderState{}, &noContext{})
	for range h.Events() {
	}
	status, err := h.Wait()
	assert.Equal(t, StatusFailed, status)
	assert.Error(t, err)
}

func TestNewRejectsEmptyName(t *testing.T) {
	_, err := New[orderState, noContext]("")
	assert.Error(t, err)
}

func TestRetryAndErrorHandlerThroughPublicAPI(t *testing.T) {
	var attempts atomic.Int32

	p, err := New[orderState, noContext]("retry")
	require.NoError(t, err)
	require.NoError(t, p.AddStep("flaky", func(ctx context.Context, state *orderState, rc *noContext) (Outcome, error) {
		if attempts.Add(1) < 2 {
			return Outcome{}, fmt.Errorf("transient")
		}
		return Stop(), nil
	}, WithErrorHandler[orderState, noContext](func(ctx context.Context, err error, state *orderState, rc *noContext, stepName string) (Outcome, error) {
		return Retry(), nil
	}), WithRetry(5)))

	h := Run(context.Background(), p, &orderState{}, &noContext{})
	for range h.Events() {
	}
	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.EqualValues(t, 2, attempts.Load())
}
