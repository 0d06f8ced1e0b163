package justpipe

import (
	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
	"github.com/justpipe/justpipe/internal/telemetry"
)

// Event, its payload types, and the run's terminal Status are re-exported
// from internal/domain unchanged: the public surface and the internal
// wire shape are the same struct, since nothing about them is
// engine-private.
type (
	Event                 = domain.Event
	EventType             = domain.EventType
	NodeKind              = domain.NodeKind
	Status                = domain.Status
	FailureSummary        = domain.FailureSummary
	RuntimeMetrics        = domain.RuntimeMetrics
	FinishPayload         = domain.FinishPayload
	BarrierWaitPayload    = domain.BarrierWaitPayload
	BarrierReleasePayload = domain.BarrierReleasePayload
	MapStartPayload       = domain.MapStartPayload
	MapWorkerPayload      = domain.MapWorkerPayload
	MapCompletePayload    = domain.MapCompletePayload
)

const (
	EventStart          = domain.EventStart
	EventStepStart      = domain.EventStepStart
	EventToken          = domain.EventToken
	EventStepEnd        = domain.EventStepEnd
	EventStepError      = domain.EventStepError
	EventBarrierWait    = domain.EventBarrierWait
	EventBarrierRelease = domain.EventBarrierRelease
	EventMapStart       = domain.EventMapStart
	EventMapWorker      = domain.EventMapWorker
	EventMapComplete    = domain.EventMapComplete
	EventSuspend        = domain.EventSuspend
	EventTimeout        = domain.EventTimeout
	EventCancelled      = domain.EventCancelled
	EventFinish         = domain.EventFinish

	NodeStep    = domain.NodeStep
	NodeMap     = domain.NodeMap
	NodeSwitch  = domain.NodeSwitch
	NodeSub     = domain.NodeSub
	NodeBarrier = domain.NodeBarrier

	StatusSuccess      = domain.StatusSuccess
	StatusFailed       = domain.StatusFailed
	StatusTimeout      = domain.StatusTimeout
	StatusCancelled    = domain.StatusCancelled
	StatusClientClosed = domain.StatusClientClosed
)

// Observer, ObserverFunc, and EventHook are re-exported from their owning
// packages so callers never need to import internal/telemetry or
// internal/graph directly to implement one.
type (
	Observer     = telemetry.Observer
	ObserverFunc = telemetry.ObserverFunc
	EventHook    = graph.EventHook
)
