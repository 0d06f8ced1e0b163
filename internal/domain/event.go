// Package domain holds the types shared across JustPipe's runtime:
// events, steps, outcomes, invocation identity, and node kinds. None of
// these types know how they are scheduled or published; that lives in
// internal/kernel, internal/invoker, and internal/telemetry.
package domain

import "time"

// EventType identifies one of the fixed lifecycle event kinds a run emits.
type EventType string

const (
	EventStart          EventType = "START"
	EventStepStart      EventType = "STEP_START"
	EventToken          EventType = "TOKEN"
	EventStepEnd        EventType = "STEP_END"
	EventStepError      EventType = "STEP_ERROR"
	EventBarrierWait    EventType = "BARRIER_WAIT"
	EventBarrierRelease EventType = "BARRIER_RELEASE"
	EventMapStart       EventType = "MAP_START"
	EventMapWorker      EventType = "MAP_WORKER"
	EventMapComplete    EventType = "MAP_COMPLETE"
	EventSuspend        EventType = "SUSPEND"
	EventTimeout        EventType = "TIMEOUT"
	EventCancelled      EventType = "CANCELLED"
	EventFinish         EventType = "FINISH"
)

// NodeKind classifies which kind of graph node produced an event.
type NodeKind string

const (
	NodeStep    NodeKind = "STEP"
	NodeMap     NodeKind = "MAP"
	NodeSwitch  NodeKind = "SWITCH"
	NodeSub     NodeKind = "SUB"
	NodeBarrier NodeKind = "BARRIER"
)

// Status is the terminal status attached to the FINISH event.
type Status string

const (
	StatusSuccess      Status = "success"
	StatusFailed       Status = "failed"
	StatusTimeout      Status = "timeout"
	StatusCancelled    Status = "cancelled"
	StatusClientClosed Status = "client_closed"
)

// Event is a single record in a run's totally-ordered output stream.
type Event struct {
	Type                EventType
	Stage               string
	Payload             any
	Timestamp           time.Time
	RunID               string
	OriginRunID         string
	ParentRunID         string
	NodeKind            NodeKind
	InvocationID        string
	ParentInvocationID  string
	OwnerInvocationID   string
	Attempt             int
	Scope               []string
	Meta                map[string]any
	Seq                 uint64
}

// BarrierWaitPayload is the payload carried by a BARRIER_WAIT event.
type BarrierWaitPayload struct {
	Timeout        time.Duration
	Dependencies   []string
	ExpectedCount  int
	CompletedCount int
	WaitingFor     []string
}

// BarrierReleasePayload is the payload carried by a BARRIER_RELEASE event.
type BarrierReleasePayload struct {
	Duration time.Duration
}

// MapStartPayload is the payload carried by a MAP_START event.
type MapStartPayload struct {
	Target    string
	ItemCount int
}

// MapWorkerPayload is the payload carried by a MAP_WORKER event.
type MapWorkerPayload struct {
	Index  int
	Total  int
	Target string
	Owner  string
}

// MapCompletePayload is the payload carried by a MAP_COMPLETE event.
type MapCompletePayload struct {
	Target            string
	ItemCount         int
	OwnerInvocationID string
	OwnerScope        []string
}

// FinishPayload is the payload carried by the terminal FINISH event.
type FinishPayload struct {
	Status   Status
	Duration time.Duration
	Failure  *FailureSummary
	Metrics  RuntimeMetrics
	Meta     map[string]any
}

// FailureSummary is the user-facing projection of the failure journal's
// resolution, attached to FINISH when the run did not succeed.
type FailureSummary struct {
	Kind    string
	Source  string
	Reason  string
	Message string
	Step    string
}

// RuntimeMetrics is a point-in-time snapshot of engine-level counters
// recorded by internal/telemetry over the lifetime of a run.
type RuntimeMetrics struct {
	TasksSpawned      int64
	StepsStarted      int64
	StepsSucceeded    int64
	StepsFailed       int64
	EventsPublished   int64
	MapWorkerPeak     int64
	BarrierWaitTotal  time.Duration
	StepDurationTotal time.Duration
}
