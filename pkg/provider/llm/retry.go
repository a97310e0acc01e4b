package llm

import (
	"context"
	"log/slog"
	"time"
)

// Compile-time assertion that Retrying satisfies Provider.
var _ Provider = (*Retrying)(nil)

// defaultBackoffs are the waits applied before the second and third attempt.
var defaultBackoffs = []time.Duration{200 * time.Millisecond, 600 * time.Millisecond}

// Retrying wraps a Provider and retries Complete on transient (5xx)
// backend failures with fixed backoffs. Non-transient errors and context
// cancellation return immediately.
type Retrying struct {
	next     Provider
	backoffs []time.Duration
	sleep    func(time.Duration)
}

// RetryOption is a functional option for [NewRetrying].
type RetryOption func(*Retrying)

// WithBackoffs overrides the waits applied before each retry. The number of
// backoffs determines the number of retries.
func WithBackoffs(backoffs ...time.Duration) RetryOption {
	return func(r *Retrying) { r.backoffs = backoffs }
}

// WithSleep replaces the sleep function. Used by tests to avoid real waits.
func WithSleep(sleep func(time.Duration)) RetryOption {
	return func(r *Retrying) { r.sleep = sleep }
}

// NewRetrying wraps next with the retry policy.
func NewRetrying(next Provider, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:     next,
		backoffs: defaultBackoffs,
		sleep:    time.Sleep,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Complete implements [Provider].
func (r *Retrying) Complete(ctx context.Context, messages []Message) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		reply, err := r.next.Complete(ctx, messages)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !IsTransient(err) || attempt >= len(r.backoffs) {
			return "", lastErr
		}
		if ctx.Err() != nil {
			return "", lastErr
		}

		wait := r.backoffs[attempt]
		slog.Warn("llm completion failed, retrying",
			"attempt", attempt+1,
			"backoff", wait,
			"error", err,
		)
		r.sleep(wait)
	}
}
