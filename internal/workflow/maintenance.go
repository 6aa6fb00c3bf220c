package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
)

// VerifyBackupsWorkflow re-checksums recent backups on both providers.
func VerifyBackupsWorkflow(ctx workflow.Context, params jobs.VerifyParams) (*model.VerificationResult, error) {
	var result model.VerificationResult
	err := workflow.ExecuteActivity(transferOptions(ctx), "VerifyRecentBackups", params.Limit).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CleanupSelfServiceWorkflow removes expired download tokens and local
// artifact copies, and optionally the backups themselves.
func CleanupSelfServiceWorkflow(ctx workflow.Context, params jobs.CleanupParams) (*model.CleanupResult, error) {
	var result model.CleanupResult
	err := workflow.ExecuteActivity(transferOptions(ctx), "CleanupSelfService", params.OlderThanDays, params.DeleteRecords).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CleanupOldBackupsWorkflow purges the artifacts of backups past retention.
func CleanupOldBackupsWorkflow(ctx workflow.Context, params jobs.RetentionParams) (*model.CleanupResult, error) {
	var result model.CleanupResult
	err := workflow.ExecuteActivity(transferOptions(ctx), "PurgeExpiredBackups", params.RetentionDays).Get(ctx, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
