// Package restore validates backup artifacts and applies them to tenants.
// Failures are isolated per tenant; only a catalog failure aborts a batch.
package restore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/backoff"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/metrics"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/platform"
	"github.com/edvin/tenantvault/internal/storage"
	"github.com/edvin/tenantvault/internal/tenantdata"
)

// Storage streams stored artifacts. An empty provider reads primary first
// and falls back to the secondary.
type Storage interface {
	Open(ctx context.Context, key, provider string) (io.ReadCloser, string, error)
}

// Pair names one tenant and the backup to restore it from.
type Pair struct {
	TenantID string `json:"tenant_id" validate:"required"`
	BackupID string `json:"backup_id" validate:"required"`
}

// Options apply to every tenant of a restore batch.
type Options struct {
	SkipValidation bool   `json:"skip_validation"`
	InitiatedBy    string `json:"initiated_by"`
	// BatchID groups the batch's restore records. Generated when empty.
	BatchID string `json:"batch_id"`
}

type Orchestrator struct {
	catalog    catalog.Catalog
	data       tenantdata.Store
	storage    Storage
	stagingDir string
	retry      backoff.Policy
	logger     zerolog.Logger
	now        func() time.Time
}

func NewOrchestrator(cat catalog.Catalog, data tenantdata.Store, store Storage, stagingDir string, retry backoff.Policy, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		catalog:    cat,
		data:       data,
		storage:    store,
		stagingDir: stagingDir,
		retry:      retry,
		logger:     logger.With().Str("component", "restore").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// orchestrationError marks a failure that aborts the whole batch.
type orchestrationError struct{ err error }

func (e *orchestrationError) Error() string { return e.err.Error() }
func (e *orchestrationError) Unwrap() error { return e.err }

// catalogErr classifies an error returned by the catalog. Lookup and rule
// errors stay tenant-scoped; anything unclassified means the catalog itself
// is unavailable.
func catalogErr(err error) error {
	if err == nil || errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	return &orchestrationError{err: err}
}

// Validate recomputes the checksum of a backup's artifact as stored on
// provider, or on whichever provider serves it when provider is empty.
// A mismatch is reported as false with a nil error. No tenant data is read
// or written.
func (o *Orchestrator) Validate(ctx context.Context, backupID, provider string) (bool, error) {
	if provider != "" && !storage.ValidProvider(provider) {
		return false, errs.Validation("validate backup", "unknown provider %q", provider)
	}
	b, err := o.catalog.FindBackup(ctx, backupID)
	if err != nil {
		return false, err
	}
	if err := restorable(b); err != nil {
		return false, err
	}
	if provider != "" {
		if _, ok := b.Location(provider); !ok {
			return false, errs.NotFound("validate backup", "backup %s has no copy on %s", backupID, provider)
		}
	}

	var got string
	var ok bool
	err = backoff.Do(ctx, o.retry, func(ctx context.Context) error {
		rc, _, err := o.storage.Open(ctx, b.ObjectKey, provider)
		if err != nil {
			return err
		}
		defer rc.Close()
		sum, match, err := artifact.Verify(rc, b.Checksum)
		if err != nil {
			return errs.StorageProvider("read "+b.ObjectKey, err)
		}
		got, ok = sum, match
		return nil
	})
	if err != nil {
		return false, err
	}

	if !ok {
		o.logger.Warn().Str("backup_id", backupID).Str("provider", provider).
			Str("expected", b.Checksum).Str("actual", got).Msg("checksum mismatch")
	}
	return ok, nil
}

func restorable(b *model.BackupRecord) error {
	if b.Status != model.StatusCompleted {
		return errs.BusinessRule("restore", "backup %s is %s, not completed", b.ID, b.Status)
	}
	if b.PurgedAt != nil {
		return errs.BusinessRule("restore", "backup %s artifact was purged by retention", b.ID)
	}
	if !b.Restorable() {
		return errs.BusinessRule("restore", "backup %s has no stored artifact", b.ID)
	}
	return nil
}

// RestoreSingle restores one tenant from one backup.
func (o *Orchestrator) RestoreSingle(ctx context.Context, tenantID, backupID string, opts Options) (*model.RestoreResult, error) {
	return o.RestoreMultiple(ctx, []Pair{{TenantID: tenantID, BackupID: backupID}}, opts)
}

// RestoreMultiple restores each pair in order. A tenant's failure is recorded
// in its outcome and the batch continues.
func (o *Orchestrator) RestoreMultiple(ctx context.Context, pairs []Pair, opts Options) (*model.RestoreResult, error) {
	if len(pairs) == 0 {
		return nil, errs.Validation("restore", "at least one tenant is required")
	}
	for _, p := range pairs {
		if p.TenantID == "" || p.BackupID == "" {
			return nil, errs.Validation("restore", "every pair needs a tenant id and a backup id")
		}
	}
	if opts.BatchID == "" {
		opts.BatchID = platform.NewID()
	}

	result := &model.RestoreResult{BatchID: opts.BatchID, Outcomes: []model.TenantRestoreOutcome{}}
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome, err := o.restoreTenant(ctx, p, opts)
		if err != nil {
			o.logger.Error().Err(err).Str("batch_id", opts.BatchID).Msg("restore batch aborted")
			return result, fmt.Errorf("restore batch %s: %w", opts.BatchID, err)
		}
		result.Add(outcome)
	}

	o.logger.Info().Str("batch_id", opts.BatchID).Int("completed", result.Completed).
		Int("failed", result.Failed).Msg("restore batch finished")
	return result, nil
}

// RestoreAll restores every active tenant from its newest restore point,
// created before asOf when asOf is set. Tenants without one fail.
func (o *Orchestrator) RestoreAll(ctx context.Context, asOf *time.Time, opts Options) (*model.RestoreResult, error) {
	tenants, err := o.data.ActiveTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	if opts.BatchID == "" {
		opts.BatchID = platform.NewID()
	}

	result := &model.RestoreResult{BatchID: opts.BatchID, Outcomes: []model.TenantRestoreOutcome{}}
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		point, err := o.latestPoint(ctx, tenantID, asOf)
		if err != nil {
			if cerr := catalogErr(err); isOrchestration(cerr) {
				return result, fmt.Errorf("restore batch %s: %w", opts.BatchID, cerr)
			}
			result.Add(failedOutcome(tenantID, "", "", err))
			continue
		}
		outcome, err := o.restoreTenant(ctx, Pair{TenantID: tenantID, BackupID: point.ID}, opts)
		if err != nil {
			return result, fmt.Errorf("restore batch %s: %w", opts.BatchID, err)
		}
		result.Add(outcome)
	}

	o.logger.Info().Str("batch_id", opts.BatchID).Int("tenants", len(tenants)).
		Int("completed", result.Completed).Int("failed", result.Failed).Msg("platform restore finished")
	return result, nil
}

func isOrchestration(err error) bool {
	var oe *orchestrationError
	return errors.As(err, &oe)
}

func (o *Orchestrator) latestPoint(ctx context.Context, tenantID string, asOf *time.Time) (*model.BackupRecord, error) {
	backups, err := o.catalog.ListBackups(ctx, catalog.BackupFilter{
		TenantID:        tenantID,
		IncludePlatform: true,
		Status:          model.StatusCompleted,
		CreatedBefore:   asOf,
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, errs.NotFound("restore all", "no restore point for tenant %s", tenantID)
	}
	return &backups[0], nil
}

func failedOutcome(tenantID, backupID, restoreID string, err error) model.TenantRestoreOutcome {
	return model.TenantRestoreOutcome{
		TenantID:  tenantID,
		BackupID:  backupID,
		RestoreID: restoreID,
		Status:    model.StatusFailed,
		Error:     err.Error(),
		ErrorKind: errs.KindOf(err).String(),
	}
}

// restoreTenant runs one tenant's restore. The returned error is non-nil only
// when the batch must abort.
func (o *Orchestrator) restoreTenant(ctx context.Context, p Pair, opts Options) (model.TenantRestoreOutcome, error) {
	log := o.logger.With().Str("batch_id", opts.BatchID).Str("tenant_id", p.TenantID).Str("backup_id", p.BackupID).Logger()

	b, err := o.catalog.FindBackup(ctx, p.BackupID)
	if err != nil {
		if cerr := catalogErr(err); isOrchestration(cerr) {
			return model.TenantRestoreOutcome{}, cerr
		}
		log.Warn().Err(err).Msg("restore source not found")
		metrics.RestoresTotal.WithLabelValues(model.StatusFailed).Inc()
		return failedOutcome(p.TenantID, p.BackupID, "", err), nil
	}

	rec := &model.RestoreRecord{
		ID:             platform.NewID(),
		BatchID:        opts.BatchID,
		BackupID:       b.ID,
		TenantID:       p.TenantID,
		InitiatedBy:    opts.InitiatedBy,
		Status:         model.StatusPending,
		SkipValidation: opts.SkipValidation,
		CreatedAt:      o.now(),
	}
	if err := o.catalog.CreateRestore(ctx, rec); err != nil {
		return model.TenantRestoreOutcome{}, &orchestrationError{err: fmt.Errorf("record restore: %w", err)}
	}

	snapshot, applyErr := o.apply(ctx, b, rec, log)
	if applyErr != nil {
		if isOrchestration(applyErr) {
			return model.TenantRestoreOutcome{}, applyErr
		}
		msg := applyErr.Error()
		completed := o.now()
		if err := o.catalog.UpdateRestore(context.WithoutCancel(ctx), rec.ID, model.StatusFailed, catalog.RestoreUpdate{
			CompletedAt:  &completed,
			ErrorMessage: &msg,
		}); err != nil {
			return model.TenantRestoreOutcome{}, &orchestrationError{err: fmt.Errorf("record restore failure: %w", err)}
		}
		metrics.RestoresTotal.WithLabelValues(model.StatusFailed).Inc()
		log.Error().Err(applyErr).Str("restore_id", rec.ID).Msg("tenant restore failed")
		out := failedOutcome(p.TenantID, b.ID, rec.ID, applyErr)
		out.Snapshot = snapshot
		return out, nil
	}

	completed := o.now()
	if err := o.catalog.UpdateRestore(ctx, rec.ID, model.StatusCompleted, catalog.RestoreUpdate{CompletedAt: &completed}); err != nil {
		return model.TenantRestoreOutcome{}, &orchestrationError{err: fmt.Errorf("record restore completion: %w", err)}
	}
	metrics.RestoresTotal.WithLabelValues(model.StatusCompleted).Inc()
	log.Info().Str("restore_id", rec.ID).Msg("tenant restored")

	return model.TenantRestoreOutcome{
		TenantID:     p.TenantID,
		BackupID:     b.ID,
		RestoreID:    rec.ID,
		Status:       model.StatusCompleted,
		Snapshot:     snapshot,
		RestorePoint: b.CompletedAt,
	}, nil
}

// apply moves the restore record to in_progress, snapshots the tenant,
// fetches and verifies the artifact and replaces the tenant's rows. The
// snapshot is returned even when a later step fails.
func (o *Orchestrator) apply(ctx context.Context, b *model.BackupRecord, rec *model.RestoreRecord, log zerolog.Logger) (map[string]int64, error) {
	if err := restorable(b); err != nil {
		return nil, err
	}
	if b.Scope == model.ScopeTenant && b.TenantID != rec.TenantID {
		return nil, errs.Validation("restore", "backup %s belongs to tenant %s, not %s", b.ID, b.TenantID, rec.TenantID)
	}
	exists, err := o.data.TenantExists(ctx, rec.TenantID)
	if err != nil {
		return nil, fmt.Errorf("check tenant: %w", err)
	}
	if !exists {
		return nil, errs.NotFound("restore", "tenant %s does not exist", rec.TenantID)
	}

	snapshot, err := o.data.Snapshot(ctx, rec.TenantID)
	if err != nil {
		return nil, fmt.Errorf("snapshot tenant: %w", err)
	}
	started := o.now()
	if err := o.catalog.UpdateRestore(ctx, rec.ID, model.StatusInProgress, catalog.RestoreUpdate{
		StartedAt:    &started,
		Snapshot:     snapshot,
		RestorePoint: b.CompletedAt,
	}); err != nil {
		if cerr := catalogErr(err); isOrchestration(cerr) {
			return snapshot, cerr
		}
		return snapshot, err
	}

	path, sum, err := o.fetch(ctx, b)
	if err != nil {
		return snapshot, err
	}
	defer os.Remove(path)

	if !rec.SkipValidation && sum != b.Checksum {
		return snapshot, errs.Integrity("restore", "artifact checksum %s does not match catalog checksum %s", sum, b.Checksum)
	}
	if rec.SkipValidation {
		log.Warn().Msg("restoring without checksum validation")
	}

	src, err := artifact.Open(path)
	if err != nil {
		return snapshot, errs.Integrity("restore", "artifact unreadable: %v", err)
	}
	defer src.Close()

	written, err := o.data.Apply(ctx, rec.TenantID, src)
	if err != nil {
		return snapshot, fmt.Errorf("apply artifact: %w", err)
	}
	log.Debug().Interface("rows", written).Msg("tenant rows replaced")
	return snapshot, nil
}

// fetch downloads the artifact into the staging directory, hashing it on the
// way. Provider failures are retried; every attempt starts a fresh file.
func (o *Orchestrator) fetch(ctx context.Context, b *model.BackupRecord) (string, string, error) {
	if err := os.MkdirAll(o.stagingDir, 0o750); err != nil {
		return "", "", fmt.Errorf("create staging dir: %w", err)
	}

	var path, sum string
	err := backoff.Do(ctx, o.retry, func(ctx context.Context) error {
		p, s, err := o.download(ctx, b)
		if err != nil {
			return err
		}
		path, sum = p, s
		return nil
	})
	return path, sum, err
}

func (o *Orchestrator) download(ctx context.Context, b *model.BackupRecord) (path string, sum string, err error) {
	rc, servedBy, err := o.storage.Open(ctx, b.ObjectKey, "")
	if err != nil {
		return "", "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(o.stagingDir, "restore-"+b.ID+"-*.jsonl.gz")
	if err != nil {
		return "", "", fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close staging file: %w", cerr)
		}
		if err != nil {
			os.Remove(f.Name())
		}
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), rc); err != nil {
		return "", "", errs.StorageProvider("read "+servedBy, err)
	}
	return f.Name(), hex.EncodeToString(h.Sum(nil)), nil
}
