package workflow

import (
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/tenantvault/internal/activity"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
)

// BackupWorkflow runs a recorded backup to a terminal status.
func BackupWorkflow(ctx workflow.Context, params jobs.BackupParams) (*model.BackupResult, error) {
	return runBackup(ctx, params.BackupID, false)
}

// SelfServiceBackupWorkflow runs a tenant's self-service backup, keeps a local
// copy of the artifact and mints its download token.
func SelfServiceBackupWorkflow(ctx workflow.Context, params jobs.BackupParams) (*model.BackupResult, error) {
	result, err := runBackup(ctx, params.BackupID, true)
	if err != nil || result.Status != model.StatusCompleted {
		return result, err
	}

	var tok activity.IssuedToken
	err = workflow.ExecuteActivity(stepOptions(ctx), "IssueDownloadToken", params.BackupID).Get(ctx, &tok)
	if err != nil {
		return result, err
	}
	result.DownloadToken = tok.Token
	result.TokenExpiresAt = &tok.ExpiresAt
	return result, nil
}

// PlatformBackupWorkflow records and runs a platform-wide backup. It is the
// target of the nightly schedule.
func PlatformBackupWorkflow(ctx workflow.Context) (*model.BackupResult, error) {
	var rec model.BackupRecord
	err := workflow.ExecuteActivity(stepOptions(ctx), "StartPlatformBackup", activity.StartPlatformBackupParams{
		InitiatedBy: "scheduler",
		Origin:      model.OriginScheduled,
	}).Get(ctx, &rec)
	if err != nil {
		return nil, err
	}
	return runBackup(ctx, rec.ID, false)
}

// runBackup moves the record to in_progress, builds and uploads the artifact,
// and records the failure once either activity gives up. A backup cancelled
// before it began ends with a cancelled result.
func runBackup(ctx workflow.Context, backupID string, keepLocalCopy bool) (*model.BackupResult, error) {
	var rec model.BackupRecord
	err := workflow.ExecuteActivity(stepOptions(ctx), "BeginBackup", backupID).Get(ctx, &rec)
	if err != nil {
		return failBackup(ctx, backupID, err)
	}
	if rec.Status == model.StatusCancelled {
		workflow.GetLogger(ctx).Info("backup cancelled before it started", "backup_id", backupID)
		return &model.BackupResult{BackupID: backupID, Status: model.StatusCancelled}, nil
	}

	var result model.BackupResult
	err = workflow.ExecuteActivity(transferOptions(ctx), "RunBackup", activity.RunBackupParams{
		BackupID:      backupID,
		KeepLocalCopy: keepLocalCopy,
	}).Get(ctx, &result)
	if err != nil {
		return failBackup(ctx, backupID, err)
	}
	return &result, nil
}

// failBackup marks the record failed with err, even if the workflow itself
// is being cancelled.
func failBackup(ctx workflow.Context, backupID string, err error) (*model.BackupResult, error) {
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	ferr := workflow.ExecuteActivity(stepOptions(dctx), "FailBackup", activity.FailBackupParams{
		BackupID: backupID,
		Error:    err.Error(),
	}).Get(dctx, nil)
	if ferr != nil {
		workflow.GetLogger(ctx).Error("recording backup failure", "backup_id", backupID, "error", ferr)
	}
	return &model.BackupResult{BackupID: backupID, Status: model.StatusFailed, Error: err.Error()}, err
}
