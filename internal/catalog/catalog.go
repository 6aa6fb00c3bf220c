// Package catalog is the durable ledger of backup and restore records, download
// tokens and verification results. It is the only writer of those rows and
// enforces the status lifecycle on every update.
package catalog

import (
	"context"
	"time"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// CodeDailyLimit marks the business-rule error raised when a tenant already
// has a self-service backup for the day.
const CodeDailyLimit = "daily_limit"

// Catalog is implemented by Postgres and by catalogtest.Memory.
type Catalog interface {
	CreateBackup(ctx context.Context, b *model.BackupRecord) error
	UpdateBackup(ctx context.Context, id, status string, upd BackupUpdate) error
	FindBackup(ctx context.Context, id string) (*model.BackupRecord, error)
	ListBackups(ctx context.Context, f BackupFilter, limit int) ([]model.BackupRecord, error)
	MarkBackupPurged(ctx context.Context, id string, at time.Time) error
	DeleteBackup(ctx context.Context, id string) error

	CreateRestore(ctx context.Context, r *model.RestoreRecord) error
	UpdateRestore(ctx context.Context, id, status string, upd RestoreUpdate) error
	FindRestore(ctx context.Context, id string) (*model.RestoreRecord, error)
	ListRestores(ctx context.Context, f RestoreFilter, limit int) ([]model.RestoreRecord, error)

	CreateDownloadToken(ctx context.Context, t *model.DownloadToken) error
	FindDownloadToken(ctx context.Context, token string) (*model.DownloadToken, error)
	MarkTokenDownloaded(ctx context.Context, tokenHash string, at time.Time) error
	ListExpiredTokens(ctx context.Context, before time.Time) ([]model.DownloadToken, error)
	DeleteDownloadToken(ctx context.Context, tokenHash string) error

	RecordVerification(ctx context.Context, v *model.VerificationRecord) error
	RecentVerifications(ctx context.Context, limit int) ([]model.VerificationRecord, error)
}

// BackupUpdate carries the fields changed alongside a status transition. Nil
// fields are left unchanged.
type BackupUpdate struct {
	StartedAt      *time.Time
	CompletedAt    *time.Time
	DurationMs     *int64
	RawSize        *int64
	CompressedSize *int64
	Checksum       *string
	ObjectKey      *string
	Locations      []model.StorageLocation
	ErrorMessage   *string
}

// RestoreUpdate carries the fields changed alongside a restore transition.
type RestoreUpdate struct {
	StartedAt    *time.Time
	CompletedAt  *time.Time
	Snapshot     map[string]int64
	RestorePoint *time.Time
	ErrorMessage *string
}

// BackupFilter narrows ListBackups. Zero fields do not filter.
type BackupFilter struct {
	Scope    string
	TenantID string
	// IncludePlatform widens a TenantID filter to platform-scope backups,
	// which also contain the tenant's rows.
	IncludePlatform bool
	Status          string
	Provider        string
	Origin          string
	// LimitDay matches self-service backups counted against that day.
	LimitDay      string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	IncludePurged bool
}

type RestoreFilter struct {
	TenantID string
	BatchID  string
	BackupID string
	Status   string
}

// ClampLimit applies the default and maximum list sizes.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func validateBackup(b *model.BackupRecord) error {
	switch b.Scope {
	case model.ScopeTenant:
		if b.TenantID == "" {
			return errs.Validation("create backup", "tenant scope requires a tenant id")
		}
	case model.ScopePlatform:
		if b.TenantID != "" {
			return errs.Validation("create backup", "platform scope takes no tenant id")
		}
	default:
		return errs.Validation("create backup", "unknown scope %q", b.Scope)
	}
	if b.Status != model.StatusPending {
		return errs.BusinessRule("create backup", "new backups start pending, got %q", b.Status)
	}
	return nil
}

func validateBackupUpdate(id, status string, upd BackupUpdate) error {
	if !model.ValidStatus(status) {
		return errs.Validation("update backup", "unknown status %q", status)
	}
	if status == model.StatusCompleted {
		if upd.Checksum == nil || *upd.Checksum == "" {
			return errs.BusinessRule("update backup", "backup %s cannot complete without a checksum", id)
		}
		if len(upd.Locations) == 0 {
			return errs.BusinessRule("update backup", "backup %s cannot complete without a storage location", id)
		}
	}
	return nil
}

func validateRestore(r *model.RestoreRecord) error {
	if r.TenantID == "" || r.BackupID == "" {
		return errs.Validation("create restore", "restore requires a tenant id and a backup id")
	}
	if r.Status != model.StatusPending {
		return errs.BusinessRule("create restore", "new restores start pending, got %q", r.Status)
	}
	return nil
}

func transitionRejected(kind, id, from, to string) error {
	return errs.BusinessRule("update "+kind, "%s %s cannot move from %s to %s", kind, id, from, to)
}
