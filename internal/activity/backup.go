package activity

import (
	"context"
	"errors"
	"time"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/selfservice"
)

// Backups contains activities that move backup records through their
// lifecycle. Each activity is one step; the workflow owns the retry loop.
type Backups struct {
	runner      *backup.Runner
	selfService *selfservice.Service
	localDir    string
	now         func() time.Time
}

// NewBackups creates a new Backups activity struct. localDir receives the
// local copies of self-service artifacts.
func NewBackups(runner *backup.Runner, selfService *selfservice.Service, localDir string) *Backups {
	return &Backups{runner: runner, selfService: selfService, localDir: localDir, now: time.Now}
}

// RunBackupParams holds the parameters for RunBackup.
type RunBackupParams struct {
	BackupID      string `json:"backup_id"`
	KeepLocalCopy bool   `json:"keep_local_copy"`
}

// FailBackupParams holds the parameters for FailBackup.
type FailBackupParams struct {
	BackupID string `json:"backup_id"`
	Error    string `json:"error"`
}

// IssuedToken is a freshly minted download token.
type IssuedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BeginBackup moves a pending backup to in_progress.
func (a *Backups) BeginBackup(ctx context.Context, backupID string) (*model.BackupRecord, error) {
	b, err := a.runner.Begin(ctx, backupID)
	return b, toTemporal(err)
}

// RunBackup builds and uploads the artifact and completes the record.
func (a *Backups) RunBackup(ctx context.Context, params RunBackupParams) (*model.BackupResult, error) {
	var opts backup.RunOptions
	if params.KeepLocalCopy {
		opts.LocalCopyDir = a.localDir
	}
	res, err := a.runner.Run(ctx, params.BackupID, opts)
	return res, toTemporal(err)
}

// FailBackup records the final error of a backup.
func (a *Backups) FailBackup(ctx context.Context, params FailBackupParams) error {
	return toTemporal(a.runner.Fail(ctx, params.BackupID, errors.New(params.Error)))
}

// IssueDownloadToken mints the download token of a completed self-service
// backup.
func (a *Backups) IssueDownloadToken(ctx context.Context, backupID string) (*IssuedToken, error) {
	tok, err := a.selfService.IssueToken(ctx, backupID)
	if err != nil {
		return nil, toTemporal(err)
	}
	return &IssuedToken{Token: tok.Token, ExpiresAt: tok.ExpiresAt}, nil
}

// PurgeExpiredBackups deletes the artifacts of completed backups older than
// retentionDays.
func (a *Backups) PurgeExpiredBackups(ctx context.Context, retentionDays int) (*model.CleanupResult, error) {
	cutoff := a.now().AddDate(0, 0, -retentionDays)
	res, err := a.runner.PurgeExpired(ctx, cutoff)
	return res, toTemporal(err)
}

// CleanupSelfService removes expired self-service tokens and local copies.
func (a *Backups) CleanupSelfService(ctx context.Context, olderThanDays int, deleteRecords bool) (*model.CleanupResult, error) {
	res, err := a.selfService.CleanupExpired(ctx, olderThanDays, deleteRecords)
	return res, toTemporal(err)
}
