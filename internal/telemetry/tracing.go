package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/justpipe/justpipe/internal/domain"
)

// Tracer wraps each step invocation in an OTel span, giving the event
// stream a parallel, standards-based trace view for free. Grounded on
// nevindra-oasis's observer.otelTracer (go.opentelemetry.io/otel/trace),
// generalized from one LLM-call span per method into one span per STEP_START
// / STEP_END|STEP_ERROR pair. Implements the shape the teacher's
// ports.Tracer/ports.Span interfaces describe, concretely, for the same
// reason Metrics does: observability is core to JustPipe.
type Tracer struct {
	tracer       trace.Tracer
	pipelineName string
}

// NewTracer wraps an OTel tracer (typically otel.Tracer("justpipe") backed
// by whichever TracerProvider the caller configured, or the OTel no-op
// default when they configure nothing).
func NewTracer(tracer trace.Tracer, pipelineName string) *Tracer {
	return &Tracer{tracer: tracer, pipelineName: pipelineName}
}

// StepSpan is the handle returned by StartStep; call End with the
// invocation's outcome once the step finishes.
type StepSpan struct {
	span trace.Span
}

// StartStep opens a span named "<pipeline>.<step>" for one invocation,
// tagging it with the invocation's scope and attempt.
func (t *Tracer) StartStep(ctx context.Context, stepName string, inv domain.InvocationContext) (context.Context, *StepSpan) {
	if t == nil || t.tracer == nil {
		return ctx, &StepSpan{}
	}
	ctx, span := t.tracer.Start(ctx, t.pipelineName+"."+stepName, trace.WithAttributes(
		attribute.String("justpipe.step", stepName),
		attribute.Int("justpipe.attempt", inv.Attempt),
		attribute.StringSlice("justpipe.scope", inv.Scope),
	))
	return ctx, &StepSpan{span: span}
}

// End records err (if any) and closes the span.
func (s *StepSpan) End(err error) {
	if s == nil || s.span == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
