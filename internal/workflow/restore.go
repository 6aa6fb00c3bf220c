package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/tenantvault/internal/activity"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
)

// RestoreWorkflow restores a batch of tenants. Artifact downloads are
// retried inside the activity; the activity itself runs once because a
// partially applied batch must not be replayed.
func RestoreWorkflow(ctx workflow.Context, params jobs.RestoreParams) (*model.RestoreResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	})

	var result model.RestoreResult
	err := workflow.ExecuteActivity(ctx, "RestoreBatch", activity.RestoreBatchParams{
		Pairs:   params.Pairs,
		All:     params.All,
		AsOf:    params.AsOf,
		Options: params.Options(),
	}).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
