package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justpipe/justpipe/internal/domain"
	"github.com/justpipe/justpipe/internal/graph"
)

type recordingTokens struct {
	tokens []any
}

func (r *recordingTokens) EmitToken(stepName string, token any, inv domain.InvocationContext) {
	r.tokens = append(r.tokens, token)
}

func TestInvokerExecutesPlainStep(t *testing.T) {
	r := graph.New()
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "greet",
		Kind: domain.KindPlain,
		Fn: func(inv *domain.Invocation) (domain.Outcome, error) {
			return domain.Outcome{Kind: 0}, nil
		},
	}))
	r.Freeze()

	iv := New(r, nil)
	step, _ := r.Step("greet")
	_, err := iv.Execute(context.Background(), step, &domain.Invocation{}, domain.InvocationContext{})
	assert.NoError(t, err)
}

func TestInvokerAppliesMiddlewareChain(t *testing.T) {
	r := graph.New()
	var order []string
	mw1 := domain.Middleware(func(next domain.StepFunc) domain.StepFunc {
		return func(inv *domain.Invocation) (domain.Outcome, error) {
			order = append(order, "mw1-in")
			out, err := next(inv)
			order = append(order, "mw1-out")
			return out, err
		}
	})
	mw2 := domain.Middleware(func(next domain.StepFunc) domain.StepFunc {
		return func(inv *domain.Invocation) (domain.Outcome, error) {
			order = append(order, "mw2-in")
			out, err := next(inv)
			order = append(order, "mw2-out")
			return out, err
		}
	})
	require.NoError(t, r.AddMiddleware(mw1))
	require.NoError(t, r.AddMiddleware(mw2))
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "s",
		Kind: domain.KindPlain,
		Fn: func(inv *domain.Invocation) (domain.Outcome, error) {
			order = append(order, "step")
			return domain.Outcome{}, nil
		},
	}))
	r.Freeze()

	iv := New(r, nil)
	step, _ := r.Step("s")
	_, err := iv.Execute(context.Background(), step, &domain.Invocation{}, domain.InvocationContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"mw1-in", "mw2-in", "step", "mw2-out", "mw1-out"}, order)
}

func TestInvokerTimesOut(t *testing.T) {
	r := graph.New()
	require.NoError(t, r.AddStep(&domain.Step{
		Name:    "slow",
		Kind:    domain.KindPlain,
		Timeout: 10 * time.Millisecond,
		Fn: func(inv *domain.Invocation) (domain.Outcome, error) {
			<-inv.Ctx.Done()
			return domain.Outcome{}, inv.Ctx.Err()
		},
	}))
	r.Freeze()

	iv := New(r, nil)
	step, _ := r.Step("slow")
	_, err := iv.Execute(context.Background(), step, &domain.Invocation{}, domain.InvocationContext{})
	require.Error(t, err)
	var te *TimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestInvokerDrainsStreamAndEmitsTokens(t *testing.T) {
	r := graph.New()
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "stream",
		Kind: domain.KindPlain,
		Stream: func(inv *domain.Invocation) (*domain.Stream, error) {
			i := 0
			tokens := []string{"a", "b", "c"}
			return domain.NewStream(func(ctx context.Context) (any, domain.Outcome, bool, error) {
				if i >= len(tokens) {
					return nil, domain.Outcome{}, true, nil
				}
				tok := tokens[i]
				i++
				return tok, domain.Outcome{}, false, nil
			}), nil
		},
	}))
	r.Freeze()

	tokens := &recordingTokens{}
	iv := New(r, tokens)
	step, _ := r.Step("stream")
	_, err := iv.Execute(context.Background(), step, &domain.Invocation{}, domain.InvocationContext{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, tokens.tokens)
}

func TestInvokerStreamPropagatesError(t *testing.T) {
	r := graph.New()
	wantErr := errors.New("boom")
	require.NoError(t, r.AddStep(&domain.Step{
		Name: "stream",
		Kind: domain.KindPlain,
		Stream: func(inv *domain.Invocation) (*domain.Stream, error) {
			return domain.NewStream(func(ctx context.Context) (any, domain.Outcome, bool, error) {
				return nil, domain.Outcome{}, false, wantErr
			}), nil
		},
	}))
	r.Freeze()

	iv := New(r, nil)
	step, _ := r.Step("stream")
	_, err := iv.Execute(context.Background(), step, &domain.Invocation{}, domain.InvocationContext{})
	assert.ErrorIs(t, err, wantErr)
}
