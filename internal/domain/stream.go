package domain

import "context"

// Stream is a pull-based iterator a step can return instead of a single
// Outcome, standing in for the reference implementation's async-generator
// steps (step_invoker.py's `inspect.isasyncgen(result)` branch): each
// intermediate value it yields becomes a TOKEN event, and the final Next
// call that reports done=true carries the step's terminal Outcome.
//
// A pull-based iterator rather than a Go channel was chosen so a step can
// be driven cooperatively (the invoker decides when to ask for the next
// value) instead of needing a separate goroutine + channel per streaming
// step, mirroring how the Python generator is resumed one `anext()` at a
// time rather than eagerly produced.
type Stream struct {
	next func(ctx context.Context) (token any, outcome Outcome, done bool, err error)
}

// NewStream builds a Stream from a pull function. next is called repeatedly
// until it reports done=true or returns a non-nil error; each call prior to
// done returns a token to publish as a TOKEN event.
func NewStream(next func(ctx context.Context) (token any, outcome Outcome, done bool, err error)) *Stream {
	return &Stream{next: next}
}

// Next pulls the next token (or the terminal outcome, when done is true).
func (s *Stream) Next(ctx context.Context) (token any, outcome Outcome, done bool, err error) {
	return s.next(ctx)
}

// StreamFunc is the shape of a step that yields intermediate tokens before
// resolving to a terminal Outcome.
type StreamFunc func(inv *Invocation) (*Stream, error)
