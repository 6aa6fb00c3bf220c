package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/selfservice"
)

type SelfServiceService struct {
	svc    *selfservice.Service
	runner *backup.Runner
	queue  jobs.Queue
	logger zerolog.Logger
}

func NewSelfServiceService(svc *selfservice.Service, runner *backup.Runner, queue jobs.Queue, logger zerolog.Logger) *SelfServiceService {
	return &SelfServiceService{svc: svc, runner: runner, queue: queue, logger: logger}
}

// DailyLimit reports whether a tenant may start a self-service backup today.
type DailyLimit struct {
	TenantID string `json:"tenant_id"`
	Allowed  bool   `json:"allowed"`
}

func (s *SelfServiceService) CheckDailyLimit(ctx context.Context, tenantID string) (*DailyLimit, error) {
	allowed, err := s.svc.CheckDailyLimit(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return &DailyLimit{TenantID: tenantID, Allowed: allowed}, nil
}

// Create enforces the daily limit, records the backup and submits its job.
// The download token is part of the job result.
func (s *SelfServiceService) Create(ctx context.Context, tenantID, userID string) (*CreatedBackup, error) {
	rec, err := s.svc.Begin(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return submitBackup(ctx, s.runner, s.queue, s.logger, rec, jobs.TypeSelfServiceBackup)
}

// ReissueToken mints a new download token for a completed self-service
// backup whose job finished without one, or whose token expired.
func (s *SelfServiceService) ReissueToken(ctx context.Context, tenantID, backupID string) (*model.DownloadToken, error) {
	return s.svc.ReissueToken(ctx, tenantID, backupID)
}

func (s *SelfServiceService) Download(ctx context.Context, token string) (*selfservice.Download, error) {
	return s.svc.DownloadByToken(ctx, token)
}

// Cleanup submits a cleanup of self-service artifacts whose tokens expired
// more than olderThanDays ago.
func (s *SelfServiceService) Cleanup(ctx context.Context, olderThanDays int, deleteRecords bool) (*CreatedJob, error) {
	if olderThanDays < 0 {
		return nil, errs.Validation("self-service cleanup", "older_than_days must not be negative")
	}
	h, err := s.queue.Submit(ctx, jobs.TaskSpec{
		Type:    jobs.TypeSelfServiceClean,
		Cleanup: &jobs.CleanupParams{OlderThanDays: olderThanDays, DeleteRecords: deleteRecords},
	})
	if err != nil {
		return nil, fmt.Errorf("submit self-service cleanup job: %w", err)
	}
	job := createdJob(h)
	return &job, nil
}
