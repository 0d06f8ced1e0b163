// Package retryware is an optional Middleware[S,C] that retries a step's
// Invoke chain with exponential backoff on transient errors. It is not
// imported by any core justpipe package — a step gets retry-with-backoff
// behavior only by explicitly calling Use(retryware.New(...)), the same way
// oasis composes WithRetry around a Provider rather than baking retry into
// the provider interface itself.
//
// This is deliberately a different retry mechanism than the engine's own
// Retry() outcome: Retry() reschedules the whole invocation through the
// scheduler (a new attempt, a new STEP_START event, MaxAttempts enforced by
// the step's RetryPolicy); retryware retries inside a single invocation,
// never surfacing the intermediate failures to the engine at all. Use
// Retry() when retries should be visible in the event stream; use this
// middleware when they shouldn't.
package retryware

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/justpipe/justpipe"
)

type options struct {
	maxTries        int
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	isRetryable     func(error) bool
}

// Option configures one New call.
type Option func(*options)

// WithMaxTries caps the number of attempts (including the first), 0 meaning
// unlimited (subject to WithMaxElapsedTime). Default 3.
func WithMaxTries(n int) Option { return func(o *options) { o.maxTries = n } }

// WithInitialInterval sets the first backoff delay. Default 500ms.
func WithInitialInterval(d time.Duration) Option {
	return func(o *options) { o.initialInterval = d }
}

// WithMaxInterval caps how large a single backoff delay may grow to.
// Default 30s.
func WithMaxInterval(d time.Duration) Option { return func(o *options) { o.maxInterval = d } }

// WithMaxElapsedTime bounds the total time spent retrying across all
// attempts; 0 (the default) disables the bound.
func WithMaxElapsedTime(d time.Duration) Option { return func(o *options) { o.maxElapsedTime = d } }

// WithRetryableFunc restricts retries to errors isRetryable reports true
// for; any other error is returned immediately on first occurrence. The
// default retries every error.
func WithRetryableFunc(isRetryable func(error) bool) Option {
	return func(o *options) { o.isRetryable = isRetryable }
}

// New builds a Middleware that retries the wrapped Invoke with exponential
// backoff, honoring ctx cancellation between attempts. It never converts a
// final failure into success — after the last attempt it returns whatever
// error the step itself returned.
func New[S, C any](opts ...Option) justpipe.Middleware[S, C] {
	cfg := options{
		maxTries:        3,
		initialInterval: 500 * time.Millisecond,
		maxInterval:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next justpipe.Invoke[S, C]) justpipe.Invoke[S, C] {
		return func(ctx context.Context, state *S, rc *C) (justpipe.Outcome, error) {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.initialInterval
			b.MaxInterval = cfg.maxInterval

			retryOpts := []backoff.RetryOption{backoff.WithBackOff(b)}
			if cfg.maxTries > 0 {
				retryOpts = append(retryOpts, backoff.WithMaxTries(uint(cfg.maxTries)))
			}
			if cfg.maxElapsedTime > 0 {
				retryOpts = append(retryOpts, backoff.WithMaxElapsedTime(cfg.maxElapsedTime))
			}

			return backoff.Retry(ctx, func() (justpipe.Outcome, error) {
				out, err := next(ctx, state, rc)
				if err != nil && cfg.isRetryable != nil && !cfg.isRetryable(err) {
					return out, backoff.Permanent(err)
				}
				return out, err
			}, retryOpts...)
		}
	}
}
