// Package backoff runs operations under the bounded exponential retry policy
// shared by the Temporal activities and the in-process job backend.
package backoff

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/tenantvault/internal/errs"
)

// Coefficient is the growth factor between attempts. go-retry's exponential
// backoff doubles, so Temporal is configured with the same factor.
const Coefficient = 2.0

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Default matches the activity retry policy used by every workflow.
var Default = Policy{
	MaxAttempts:     3,
	InitialInterval: time.Second,
	MaxInterval:     10 * time.Second,
}

// Do calls fn until it succeeds, returns an error that is not retryable, or
// the policy's attempts are exhausted. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && errs.Retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (p Policy) backoff() retry.Backoff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	initial := p.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	b := retry.NewExponential(initial)
	if p.MaxInterval > 0 {
		b = retry.WithCappedDuration(p.MaxInterval, b)
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// TemporalRetryPolicy expresses p as a Temporal activity retry policy.
// Only storage provider failures are retried; every other error kind is
// raised as a non-retryable application error by the activities.
// A zero attempt count means one attempt, never Temporal's unlimited retries.
func (p Policy) TemporalRetryPolicy() *temporal.RetryPolicy {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	initial := p.InitialInterval
	if initial <= 0 {
		initial = time.Second
	}
	rp := &temporal.RetryPolicy{
		MaximumAttempts:    int32(attempts),
		InitialInterval:    initial,
		BackoffCoefficient: Coefficient,
	}
	if p.MaxInterval >= initial {
		rp.MaximumInterval = p.MaxInterval
	}
	return rp
}
