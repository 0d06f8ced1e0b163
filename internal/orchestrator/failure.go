package orchestrator

import (
	"time"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/failure"
	"github.com/justpipe/justpipe/internal/graph"
)

// newFailureHandler builds a failure.Handler from the frozen registry's
// global OnError hook plus each step's own local ErrorHandler.
func newFailureHandler(reg *graph.Registry, journal *failure.Journal, emit failure.Emitter) *failure.Handler {
	locals := make(map[string]domain.StepFunc)
	for _, step := range reg.Steps() {
		if step.ErrorHandler != nil {
			locals[step.Name] = step.ErrorHandler
		}
	}
	return failure.New(journal, emit, reg.OnError(), locals)
}

func failureShutdownRecord(err error) failure.Record {
	return failure.Record{
		Kind:    failure.KindShutdown,
		Source:  failure.SourceUserCode,
		Reason:  failure.ReasonShutdownHookError,
		Message: err.Error(),
		Err:     err,
		At:      time.Now(),
	}
}
