package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justpipe/justpipe/internal/domain"
)

func TestValidateObserverRejectsNil(t *testing.T) {
	assert.ErrorIs(t, ValidateObserver(nil), ErrNilObserver)

	var fn ObserverFunc
	assert.ErrorIs(t, ValidateObserver(fn), ErrNilObserver)
}

func TestValidateObserverAcceptsObserverFunc(t *testing.T) {
	fn := ObserverFunc(func(ev *domain.Event) {})
	assert.NoError(t, ValidateObserver(fn))
}

func TestRegisterObserverAppendsOnSuccess(t *testing.T) {
	var observers []Observer
	fn := ObserverFunc(func(ev *domain.Event) {})

	require.NoError(t, RegisterObserver(&observers, fn))
	assert.Len(t, observers, 1)
}

func TestRegisterObserverRejectsNilWithoutMutatingSlice(t *testing.T) {
	var observers []Observer
	err := RegisterObserver(&observers, nil)
	assert.Error(t, err)
	assert.Empty(t, observers)
}

func TestCastObserversRecoversTypedSlice(t *testing.T) {
	var calls int
	raw := []any{ObserverFunc(func(ev *domain.Event) { calls++ })}

	observers, err := CastObservers(raw)
	require.NoError(t, err)
	require.Len(t, observers, 1)

	observers[0].OnEvent(&domain.Event{})
	assert.Equal(t, 1, calls)
}

func TestCastObserversRejectsValueNotImplementingObserver(t *testing.T) {
	raw := []any{"not an observer"}
	_, err := CastObservers(raw)
	assert.Error(t, err)
}

// partialObserver implements only OnEvent, the same shape the pre-expansion
// Observer interface required. Go's compiler already refuses to let it
// satisfy Observer, so the only way to exercise CastObservers' rejection is
// to hand it in wrapped as `any`, same as TestCastObserversRejectsValueNotImplementingObserver.
type partialObserver struct{}

func (partialObserver) OnEvent(ev *domain.Event) {}

func TestCastObserversRejectsObserverMissingLifecycleHooks(t *testing.T) {
	raw := []any{partialObserver{}}
	_, err := CastObservers(raw)
	assert.Error(t, err)
}

func TestObserverFuncImplementsFullLifecycle(t *testing.T) {
	var events int
	fn := ObserverFunc(func(ev *domain.Event) { events++ })

	fn.OnPipelineStart(nil, nil, ObserverMeta{PipelineName: "p"})
	fn.OnEvent(&domain.Event{})
	fn.OnPipelineEnd(nil, nil, ObserverMeta{PipelineName: "p"}, 0)
	fn.OnPipelineError(nil, nil, ObserverMeta{PipelineName: "p"}, assert.AnError)

	assert.Equal(t, 1, events)
}
