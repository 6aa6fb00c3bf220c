package workflow

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"
)

// ActivityErrorInterceptor gives untyped activity failures the activity name
// as their error type, so a failed backup or restore step is identifiable in
// workflow history. Errors already classified by the activity keep their type.
type ActivityErrorInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (i *ActivityErrorInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &activityErrorInbound{next: next}
}

type activityErrorInbound struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (a *activityErrorInbound) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return a.next.Init(outbound)
}

func (a *activityErrorInbound) ExecuteActivity(ctx context.Context, in *interceptor.ExecuteActivityInput) (any, error) {
	result, err := a.next.ExecuteActivity(ctx, in)
	if err == nil {
		return result, nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return result, err
	}
	return result, temporal.NewApplicationError(err.Error(), activity.GetInfo(ctx).ActivityType.Name, err)
}
