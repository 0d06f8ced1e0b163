package justpipe

import (
	"context"

	"github.com/justpipe/justpipe/internal/domain"
)

// Invoke is what a Middleware wraps: the next step (or the real step body,
// for the innermost layer) to call, narrowed to the ctx/state/rc triple —
// Item, Err, and Attempt stay on the original invocation and reach the
// step body untouched, since a middleware's job is to wrap context and
// observe outcomes, not reshape the call's identity.
type Invoke[S, C any] func(ctx context.Context, state *S, rc *C) (Outcome, error)

// Middleware decorates every PLAIN, MAP, and SUB step invocation in
// registration order (outermost-registered runs first on the way in).
// Steps registered with AddStream are not wrapped.
type Middleware[S, C any] func(Invoke[S, C]) Invoke[S, C]

func adaptMiddleware[S, C any](mw Middleware[S, C]) domain.Middleware {
	return func(next domain.StepFunc) domain.StepFunc {
		return func(call *domain.Invocation) (domain.Outcome, error) {
			typedNext := func(ctx context.Context, state *S, rc *C) (Outcome, error) {
				call.Ctx = ctx
				raw, err := next(call)
				return Outcome{raw: raw}, err
			}
			state, _ := call.State.(*S)
			rc, _ := call.RunCtx.(*C)
			out, err := mw(typedNext)(call.Ctx, state, rc)
			return out.raw, err
		}
	}
}
