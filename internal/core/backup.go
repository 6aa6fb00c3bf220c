package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/restore"
	"github.com/edvin/tenantvault/internal/storage"
)

type BackupService struct {
	catalog   catalog.Catalog
	runner    *backup.Runner
	validator *restore.Orchestrator
	queue     jobs.Queue
	logger    zerolog.Logger
}

func NewBackupService(cat catalog.Catalog, runner *backup.Runner, validator *restore.Orchestrator, queue jobs.Queue, logger zerolog.Logger) *BackupService {
	return &BackupService{catalog: cat, runner: runner, validator: validator, queue: queue, logger: logger}
}

// CreateBackupRequest describes an administrative backup.
type CreateBackupRequest struct {
	Scope       string
	TenantID    string
	InitiatedBy string
}

// CreatedBackup is a pending backup record and the job that will run it.
type CreatedBackup struct {
	Backup *model.BackupRecord `json:"backup"`
	CreatedJob
}

// Create records a pending backup and submits its job.
func (s *BackupService) Create(ctx context.Context, req CreateBackupRequest) (*CreatedBackup, error) {
	rec, err := s.runner.Start(ctx, backup.Request{
		Scope:       req.Scope,
		TenantID:    req.TenantID,
		Origin:      model.OriginAdmin,
		InitiatedBy: req.InitiatedBy,
	})
	if err != nil {
		return nil, err
	}
	return submitBackup(ctx, s.runner, s.queue, s.logger, rec, jobs.TypeBackup)
}

// submitBackup submits the job for a pending record. A record whose job
// cannot be submitted is failed so it does not linger as pending.
func submitBackup(ctx context.Context, runner *backup.Runner, queue jobs.Queue, logger zerolog.Logger, rec *model.BackupRecord, typ jobs.Type) (*CreatedBackup, error) {
	h, err := queue.Submit(ctx, jobs.TaskSpec{
		Type:   typ,
		Key:    rec.ID,
		Backup: &jobs.BackupParams{BackupID: rec.ID},
	})
	if err != nil {
		dctx, cancel := detached(ctx)
		defer cancel()
		if failErr := runner.Fail(dctx, rec.ID, err); failErr != nil {
			logger.Error().Err(failErr).Str("backup_id", rec.ID).Msg("failing unsubmitted backup")
		}
		return nil, fmt.Errorf("submit backup job %s: %w", rec.ID, err)
	}
	return &CreatedBackup{Backup: rec, CreatedJob: createdJob(h)}, nil
}

func (s *BackupService) Get(ctx context.Context, id string) (*model.BackupRecord, error) {
	return s.catalog.FindBackup(ctx, id)
}

func (s *BackupService) List(ctx context.Context, filter catalog.BackupFilter, limit int) ([]model.BackupRecord, error) {
	return s.catalog.ListBackups(ctx, filter, limit)
}

// Cancel cancels a backup whose job has not started yet.
func (s *BackupService) Cancel(ctx context.Context, id string) (*model.BackupRecord, error) {
	rec, err := s.runner.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	// The record is authoritative; a job that already started finds it
	// cancelled and stops.
	jobID := jobs.JobID(jobs.TypeBackup, id)
	if rec.Origin == model.OriginSelfService {
		jobID = jobs.JobID(jobs.TypeSelfServiceBackup, id)
	}
	if err := s.queue.Cancel(ctx, jobID); err != nil && !errs.Is(err, errs.KindNotFound) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("cancelling backup job")
	}
	return rec, nil
}

// VerifyResult is the outcome of an on-demand checksum verification.
type VerifyResult struct {
	BackupID string `json:"backup_id"`
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
}

// Verify re-checksums a backup's artifact on one provider and records the
// outcome. Without a provider the primary copy is checked, or the secondary
// one when the backup only reached the secondary.
func (s *BackupService) Verify(ctx context.Context, id, provider string) (*VerifyResult, error) {
	if provider != "" && !storage.ValidProvider(provider) {
		return nil, errs.Validation("verify backup", "unknown provider %q", provider)
	}
	if provider == "" {
		b, err := s.catalog.FindBackup(ctx, id)
		if err != nil {
			return nil, err
		}
		provider = model.ProviderPrimary
		if _, ok := b.Location(model.ProviderPrimary); !ok {
			if _, ok := b.Location(model.ProviderSecondary); ok {
				provider = model.ProviderSecondary
			}
		}
	}
	ok, err := s.validator.Validate(ctx, id, provider)
	if err != nil {
		return nil, err
	}
	rec := &model.VerificationRecord{BackupID: id, Provider: provider, OK: ok, VerifiedAt: time.Now()}
	if !ok {
		rec.Error = "checksum mismatch"
	}
	if err := s.catalog.RecordVerification(ctx, rec); err != nil {
		s.logger.Warn().Err(err).Str("backup_id", id).Msg("recording verification")
	}
	return &VerifyResult{BackupID: id, Provider: provider, OK: ok}, nil
}
