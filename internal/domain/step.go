package domain

import (
	"context"
	"time"
)

// StepKind enumerates the step shapes the registry accepts.
type StepKind int

const (
	KindPlain StepKind = iota
	KindMap
	KindSwitch
	KindSub
)

func (k StepKind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindMap:
		return "map"
	case KindSwitch:
		return "switch"
	case KindSub:
		return "sub"
	default:
		return "unknown"
	}
}

// BarrierType selects join semantics for a step with more than one parent.
type BarrierType int

const (
	BarrierAll BarrierType = iota
	BarrierAny
)

func (b BarrierType) String() string {
	if b == BarrierAny {
		return "ANY"
	}
	return "ALL"
}

// Invocation carries everything a StepFunc may need to resolve its typed
// parameters: the run's context, the opaque State/Context pointers, the
// map-item payload (when invoked as a map worker), and the error being
// handled (when invoked as an error handler). At most one of Item/Err is
// non-nil for a given invocation (a plain step gets neither).
//
// This struct is the Go stand-in for the reference implementation's
// per-invocation keyword-argument resolution (spec.md §4.5): instead of
// inspecting a callable's runtime signature, the typed wrapper functions in
// the root justpipe package pull exactly the fields they need off this
// struct and type-assert State/Context back to the caller's concrete types.
type Invocation struct {
	Ctx      context.Context
	State    any
	RunCtx   any
	Item     any
	Err      error
	StepName string
	Attempt  int
}

// StepFunc is the fully erased, uniform call shape every step reduces to
// once the public generic wrappers have bound the user's typed function.
// A middleware chain is built entirely out of StepFunc -> StepFunc
// decorators (see internal/invoker.Middleware).
type StepFunc func(inv *Invocation) (Outcome, error)

// SwitchFunc resolves a dynamic routing target for a SWITCH step.
type SwitchFunc func(inv *Invocation) (string, error)

// RetryPolicy caps the total number of attempts (the first run included)
// that a step's own Retry outcome can drive it to before the engine
// converts the loop into a terminal error.
type RetryPolicy struct {
	MaxAttempts int // 0 means "use scheduler.DefaultMaxRetries"
}

// Step is the frozen definition of one named unit of work. It is built by
// the root justpipe package's typed AddStep/AddMap/AddSwitch/AddSub calls
// and never mutated after Freeze.
type Step struct {
	Name string
	Kind StepKind

	Fn           StepFunc   // PLAIN, SUB (synthesized), and MAP worker steps
	Stream       StreamFunc // optional: set instead of Fn for token-yielding steps
	ErrorHandler StepFunc   // optional local error handler

	Timeout        time.Duration
	Retry          RetryPolicy
	BarrierTimeout time.Duration
	BarrierType    BarrierType
	Options        map[string]any

	// MAP
	MapEach           string
	MapMaxConcurrency int

	// SWITCH
	SwitchRoutes  map[string]string // key -> target step name ("" = Stop)
	SwitchDynamic SwitchFunc
	SwitchDefault string

	// Static topology: steps this step connects to on the default (None)
	// path. MAP workers must never declare this ("worker trap", spec.md
	// §4.8) — enforced by the validator, not this struct.
	To []string
}

// EffectiveBarrierType returns the join semantics internal/barrier applies
// to this step (its BarrierType; every step kind can take part in a join).
func (s *Step) EffectiveBarrierType() BarrierType { return s.BarrierType }
