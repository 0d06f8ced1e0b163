// Package failure implements JustPipe's failure taxonomy and terminal
// status resolution (spec.md §7). It is the generalization of the
// teacher's single-axis DomainError (internal/domain/pipeline/errors.go)
// into the three-axis Kind/Source/Reason taxonomy the spec requires.
package failure

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justpipe/justpipe/internal/domain"
)

// Kind is the top-level failure category.
type Kind string

const (
	KindValidation Kind = "VALIDATION"
	KindStartup    Kind = "STARTUP"
	KindStep       Kind = "STEP"
	KindShutdown   Kind = "SHUTDOWN"
	KindInfra      Kind = "INFRA"
)

// Source distinguishes failures caused by user-supplied callables from
// ones raised by the engine itself.
type Source string

const (
	SourceUserCode  Source = "USER_CODE"
	SourceFramework Source = "FRAMEWORK"
)

// Reason is a finer-grained classification within a Kind.
type Reason string

const (
	ReasonNoSteps            Reason = "NO_STEPS"
	ReasonStartupHookError   Reason = "STARTUP_HOOK_ERROR"
	ReasonStepError          Reason = "STEP_ERROR"
	ReasonShutdownHookError  Reason = "SHUTDOWN_HOOK_ERROR"
	ReasonTimeout            Reason = "TIMEOUT"
	ReasonCancelled          Reason = "CANCELLED"
	ReasonClientClosed       Reason = "CLIENT_CLOSED"
	ReasonInternalError      Reason = "INTERNAL_ERROR"
	ReasonBarrierTimeout     Reason = "BARRIER_TIMEOUT"
	ReasonMaxRetriesExceeded Reason = "MAX_RETRIES_EXCEEDED"
	ReasonUnknownTarget      Reason = "UNKNOWN_TARGET"
	ReasonWorkerTrap         Reason = "WORKER_TRAP"
)

// Record is one classified failure recorded in the Journal.
type Record struct {
	Kind    Kind
	Source  Source
	Reason  Reason
	Message string
	Step    string
	Err     error
	At      time.Time
}

// Journal accumulates failures over the lifetime of a single run and
// resolves the terminal status at FINISH time (spec.md §7).
type Journal struct {
	mu           sync.Mutex
	records      []Record
	cancelled    bool
	timedOut     bool
	clientClosed bool
}

// NewJournal creates an empty journal for a single run.
func NewJournal() *Journal { return &Journal{} }

// Record appends a classified failure. Safe for concurrent use: multiple
// parallel steps may fail independently.
func (j *Journal) Record(r Record) {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, r)
	switch r.Reason {
	case ReasonCancelled:
		j.cancelled = true
	case ReasonTimeout:
		j.timedOut = true
	case ReasonClientClosed:
		j.clientClosed = true
	}
}

// Records returns a defensive copy of all recorded failures, oldest first.
func (j *Journal) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, len(j.records))
	copy(out, j.records)
	return out
}

// HasStepFailure reports whether any unrecovered STEP-kind failure with
// USER_CODE or FRAMEWORK source was recorded.
func (j *Journal) HasStepFailure() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, r := range j.records {
		if r.Kind == KindStep {
			return true
		}
	}
	return false
}

// Resolve computes the run's terminal status following the precedence in
// spec.md §7: cancellation beats timeout beats client-close beats a plain
// step failure; shutdown-hook errors never flip an otherwise-successful
// run to failed.
func (j *Journal) Resolve() domain.Status {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cancelled {
		return domain.StatusCancelled
	}
	if j.timedOut {
		return domain.StatusTimeout
	}
	if j.clientClosed {
		return domain.StatusClientClosed
	}
	for _, r := range j.records {
		if r.Kind == KindShutdown {
			continue
		}
		return domain.StatusFailed
	}
	return domain.StatusSuccess
}

// Summary projects the first terminal (non-shutdown) failure into the
// user-facing FailureSummary attached to FINISH, or nil on success.
func (j *Journal) Summary() *domain.FailureSummary {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, r := range j.records {
		if r.Kind == KindShutdown {
			continue
		}
		msg := r.Message
		if msg == "" && r.Err != nil {
			msg = r.Err.Error()
		}
		return &domain.FailureSummary{
			Kind:    string(r.Kind),
			Source:  string(r.Source),
			Reason:  string(r.Reason),
			Message: msg,
			Step:    r.Step,
		}
	}
	return nil
}

// Err projects the same terminal failure Summary reports as a Go error,
// for callers (the observer lifecycle's OnPipelineError hook) that need a
// concrete error rather than a FailureSummary's discrete fields. Returns
// nil on success.
func (j *Journal) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, r := range j.records {
		if r.Kind == KindShutdown {
			continue
		}
		if r.Err != nil {
			return r.Err
		}
		if r.Message != "" {
			return errors.New(r.Message)
		}
		return fmt.Errorf("justpipe: run failed (%s/%s)", r.Kind, r.Reason)
	}
	return nil
}
