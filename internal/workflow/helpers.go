package workflow

import (
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/edvin/tenantvault/internal/backoff"
)

// activityRetry is the retry policy of every retried activity. The worker
// sets it from configuration before it starts polling.
var activityRetry = backoff.Default

// SetRetryPolicy replaces the activity retry policy. It must be called
// before the worker starts; running workflows keep the policy they were
// scheduled with.
func SetRetryPolicy(p backoff.Policy) {
	activityRetry = p
}

// stepOptions applies to short catalog activities.
func stepOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         activityRetry.TemporalRetryPolicy(),
	})
}

// transferOptions applies to activities that move artifacts to or from
// storage providers. Provider failures are retried; every other kind is
// returned as non-retryable by the activity.
func transferOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy:         activityRetry.TemporalRetryPolicy(),
	})
}
