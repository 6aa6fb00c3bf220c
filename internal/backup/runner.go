// Package backup runs the backup pipeline: build an artifact, store it
// through the gateway according to the failover strategy and record the
// outcome in the catalog.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
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
)

// Storage is the part of the storage gateway the pipeline uses.
type Storage interface {
	Upload(ctx context.Context, key string, body storage.Body) ([]model.StorageLocation, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// Builder produces artifacts.
type Builder interface {
	Build(ctx context.Context, req artifact.BuildRequest) (*artifact.Artifact, error)
}

// Request describes a backup to start.
type Request struct {
	Scope       string
	TenantID    string
	Origin      string
	InitiatedBy string
	// LimitDay is set for self-service backups; see model.BackupRecord.
	LimitDay string
}

// RunOptions tunes one pipeline run.
type RunOptions struct {
	// LocalCopyDir keeps the built artifact at artifact.LocalCopyPath
	// instead of discarding it after upload.
	LocalCopyDir string
}

// Runner owns the lifecycle of backup records.
type Runner struct {
	catalog catalog.Catalog
	builder Builder
	storage Storage
	retry   backoff.Policy
	logger  zerolog.Logger
	now     func() time.Time
}

func NewRunner(cat catalog.Catalog, builder Builder, store Storage, retry backoff.Policy, logger zerolog.Logger) *Runner {
	return &Runner{
		catalog: cat,
		builder: builder,
		storage: store,
		retry:   retry,
		logger:  logger.With().Str("component", "backup").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Start validates req and records a pending backup. Nothing is built yet.
func (r *Runner) Start(ctx context.Context, req Request) (*model.BackupRecord, error) {
	if req.Origin == "" {
		req.Origin = model.OriginAdmin
	}
	switch req.Origin {
	case model.OriginAdmin, model.OriginSelfService, model.OriginScheduled:
	default:
		return nil, errs.Validation("start backup", "unknown origin %q", req.Origin)
	}
	if req.InitiatedBy == "" {
		return nil, errs.Validation("start backup", "initiator is required")
	}

	b := &model.BackupRecord{
		ID:          platform.NewID(),
		Scope:       req.Scope,
		TenantID:    req.TenantID,
		Origin:      req.Origin,
		InitiatedBy: req.InitiatedBy,
		Status:      model.StatusPending,
		Locations:   []model.StorageLocation{},
		CreatedAt:   r.now(),
		LimitDay:    req.LimitDay,
	}
	if err := r.catalog.CreateBackup(ctx, b); err != nil {
		return nil, err
	}
	r.logger.Info().Str("backup_id", b.ID).Str("scope", b.Scope).Str("tenant_id", b.TenantID).
		Str("origin", b.Origin).Msg("backup queued")
	return b, nil
}

// Begin moves a pending backup to in_progress. A backup already in progress
// is returned unchanged so a retried job can pick it up again, and so is a
// cancelled one: its job ends without work.
func (r *Runner) Begin(ctx context.Context, id string) (*model.BackupRecord, error) {
	b, err := r.catalog.FindBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	switch b.Status {
	case model.StatusInProgress, model.StatusCancelled:
		return b, nil
	case model.StatusPending:
	default:
		return nil, errs.BusinessRule("begin backup", "backup %s is %s", id, b.Status)
	}

	started := r.now()
	if err := r.catalog.UpdateBackup(ctx, id, model.StatusInProgress, catalog.BackupUpdate{StartedAt: &started}); err != nil {
		return nil, err
	}
	b.Status = model.StatusInProgress
	b.StartedAt = &started
	return b, nil
}

// Run builds and uploads the artifact of an in-progress backup and marks it
// completed. Every call builds a fresh artifact, so it is safe to retry.
// Build failures are returned as *artifact.BuildError and must not be
// retried; storage failures are StorageProvider errors.
func (r *Runner) Run(ctx context.Context, id string, opts RunOptions) (*model.BackupResult, error) {
	b, err := r.catalog.FindBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status != model.StatusInProgress {
		return nil, errs.BusinessRule("run backup", "backup %s is %s, not in progress", id, b.Status)
	}

	art, err := r.builder.Build(ctx, artifact.BuildRequest{
		BackupID:  b.ID,
		Scope:     b.Scope,
		TenantID:  b.TenantID,
		CreatedAt: b.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	keep := false
	defer func() {
		if !keep {
			os.Remove(art.Path)
		}
	}()

	locations, err := r.storage.Upload(ctx, art.Key, storage.FileBody{Path: art.Path, Length: art.CompressedSize})
	if err != nil {
		return nil, err
	}

	if opts.LocalCopyDir != "" {
		if err := keepLocalCopy(art.Path, artifact.LocalCopyPath(opts.LocalCopyDir, b.ID)); err != nil {
			r.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("keeping local artifact copy failed")
		} else {
			keep = true
		}
	}

	completed := r.now()
	started := b.CreatedAt
	if b.StartedAt != nil {
		started = *b.StartedAt
	}
	duration := completed.Sub(started).Milliseconds()
	if err := r.catalog.UpdateBackup(ctx, id, model.StatusCompleted, catalog.BackupUpdate{
		CompletedAt:    &completed,
		DurationMs:     &duration,
		RawSize:        &art.RawSize,
		CompressedSize: &art.CompressedSize,
		Checksum:       &art.Checksum,
		ObjectKey:      &art.Key,
		Locations:      locations,
	}); err != nil {
		return nil, fmt.Errorf("complete backup %s: %w", id, err)
	}

	metrics.BackupsTotal.WithLabelValues(b.Scope, b.Origin, model.StatusCompleted).Inc()
	metrics.BackupDuration.WithLabelValues(b.Scope).Observe(completed.Sub(started).Seconds())
	r.logger.Info().Str("backup_id", b.ID).Str("key", art.Key).Int("locations", len(locations)).
		Int64("compressed_size", art.CompressedSize).Msg("backup completed")

	return &model.BackupResult{
		BackupID:       b.ID,
		Status:         model.StatusCompleted,
		ObjectKey:      art.Key,
		RawSize:        art.RawSize,
		CompressedSize: art.CompressedSize,
		Checksum:       art.Checksum,
		Locations:      locations,
	}, nil
}

func keepLocalCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create local copy dir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move artifact to %s: %w", dst, err)
	}
	return nil
}

// Fail marks a backup failed with cause as its error message. A backup that
// already reached a terminal status is left alone.
func (r *Runner) Fail(ctx context.Context, id string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	b, err := r.catalog.FindBackup(ctx, id)
	if err != nil {
		return err
	}
	if model.IsTerminal(b.Status) {
		return nil
	}
	completed := r.now()
	if err := r.catalog.UpdateBackup(ctx, id, model.StatusFailed, catalog.BackupUpdate{
		CompletedAt:  &completed,
		ErrorMessage: &msg,
	}); err != nil {
		return err
	}
	metrics.BackupsTotal.WithLabelValues(b.Scope, b.Origin, model.StatusFailed).Inc()
	r.logger.Error().Str("backup_id", id).Str("error", msg).Msg("backup failed")
	return nil
}

// Cancel cancels a backup whose job has not started.
func (r *Runner) Cancel(ctx context.Context, id string) (*model.BackupRecord, error) {
	if err := r.catalog.UpdateBackup(ctx, id, model.StatusCancelled, catalog.BackupUpdate{}); err != nil {
		return nil, err
	}
	b, err := r.catalog.FindBackup(ctx, id)
	if err != nil {
		return nil, err
	}
	metrics.BackupsTotal.WithLabelValues(b.Scope, b.Origin, model.StatusCancelled).Inc()
	return b, nil
}

// Execute runs a started backup to a terminal status in-process: Begin and
// Run under the retry policy, and Fail once retries are exhausted or the
// error is permanent. A backup cancelled before it began yields a cancelled
// result and no error. The returned result always names the final status.
func (r *Runner) Execute(ctx context.Context, id string, opts RunOptions) (*model.BackupResult, error) {
	var b *model.BackupRecord
	err := backoff.Do(ctx, r.retry, func(ctx context.Context) error {
		var beginErr error
		b, beginErr = r.Begin(ctx, id)
		return beginErr
	})
	if err != nil {
		return r.failed(ctx, id, err)
	}
	if b.Status == model.StatusCancelled {
		r.logger.Info().Str("backup_id", id).Msg("backup cancelled before it started")
		return &model.BackupResult{BackupID: id, Status: model.StatusCancelled}, nil
	}

	var result *model.BackupResult
	err = backoff.Do(ctx, r.retry, func(ctx context.Context) error {
		var runErr error
		result, runErr = r.Run(ctx, id, opts)
		return runErr
	})
	if err != nil {
		return r.failed(ctx, id, err)
	}
	return result, nil
}

// failed records err as the backup's final error, even when ctx is already
// cancelled.
func (r *Runner) failed(ctx context.Context, id string, err error) (*model.BackupResult, error) {
	if failErr := r.Fail(context.WithoutCancel(ctx), id, err); failErr != nil {
		r.logger.Error().Err(failErr).Str("backup_id", id).Msg("recording backup failure")
	}
	return &model.BackupResult{BackupID: id, Status: model.StatusFailed, Error: err.Error()}, err
}

// IsBuildError reports whether err came from the artifact builder.
func IsBuildError(err error) bool {
	var be *artifact.BuildError
	return errors.As(err, &be)
}
