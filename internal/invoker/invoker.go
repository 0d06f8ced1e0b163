// Package invoker executes one step invocation: resolving its middleware
// chain, enforcing its timeout, and — for streaming steps — draining their
// token stream into TOKEN events before returning the terminal Outcome.
// Grounded on original_source's _internal/runtime/execution/step_invoker.py
// (execute/_exec, asyncio.wait_for timeout wrapping, async-generator
// draining) translated into Go's context.WithTimeout + goroutine-race idiom
// the teacher itself uses in internal/engine/executor.go's
// context.WithTimeout-guarded executeStep.
package invoker

import (
	"context"
	"fmt"
	"time"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

// TimeoutError reports that a step exceeded its configured Timeout.
type TimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q timed out after %s", e.Step, e.Timeout)
}

// TokenEmitter publishes a TOKEN event for a streaming step's intermediate
// value. Kept minimal (like failure.Emitter) so this package never needs
// the whole telemetry package.
type TokenEmitter interface {
	EmitToken(stepName string, token any, inv domain.InvocationContext)
}

// Invoker executes steps drawn from a frozen registry.
type Invoker struct {
	registry *graph.Registry
	tokens   TokenEmitter
}

// New builds an invoker bound to a frozen registry and token emitter.
func New(r *graph.Registry, tokens TokenEmitter) *Invoker {
	return &Invoker{registry: r, tokens: tokens}
}

// Execute runs step with call as its injected arguments, applying the
// step's timeout (if any). A step's Fn runs inside the registry's
// middleware chain; a Stream step is drained to completion directly, with
// no middleware around it. inv is used only to label TOKEN events emitted
// along the way.
func (iv *Invoker) Execute(ctx context.Context, step *domain.Step, call *domain.Invocation, inv domain.InvocationContext) (domain.Outcome, error) {
	if step.Timeout <= 0 {
		return iv.invoke(ctx, step, call, inv)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, step.Timeout)
	defer cancel()

	type result struct {
		out domain.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := iv.invoke(timeoutCtx, step, call, inv)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-timeoutCtx.Done():
		return domain.Outcome{}, &TimeoutError{Step: step.Name, Timeout: step.Timeout}
	}
}

func (iv *Invoker) invoke(ctx context.Context, step *domain.Step, call *domain.Invocation, inv domain.InvocationContext) (out domain.Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = domain.Outcome{}, fmt.Errorf("justpipe: step %q panicked: %v", step.Name, p)
		}
	}()
	call.Ctx = ctx
	call.StepName = step.Name

	if step.Stream != nil {
		return iv.drain(ctx, step, call, inv)
	}

	fn := iv.registry.MiddlewareChain(step.Fn)
	return fn(call)
}

func (iv *Invoker) drain(ctx context.Context, step *domain.Step, call *domain.Invocation, inv domain.InvocationContext) (domain.Outcome, error) {
	stream, err := step.Stream(call)
	if err != nil {
		return domain.Outcome{}, err
	}
	for {
		token, outcome, done, err := stream.Next(ctx)
		if err != nil {
			return domain.Outcome{}, err
		}
		if done {
			return outcome, nil
		}
		if iv.tokens != nil {
			iv.tokens.EmitToken(step.Name, token, inv)
		}
		select {
		case <-ctx.Done():
			return domain.Outcome{}, ctx.Err()
		default:
		}
	}
}
