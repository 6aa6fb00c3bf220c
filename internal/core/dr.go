package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/dr"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
)

type DRService struct {
	coordinator *dr.Coordinator
	runner      *backup.Runner
	queue       jobs.Queue
	logger      zerolog.Logger
}

func NewDRService(coordinator *dr.Coordinator, runner *backup.Runner, queue jobs.Queue, logger zerolog.Logger) *DRService {
	return &DRService{coordinator: coordinator, runner: runner, queue: queue, logger: logger}
}

// CreatePlatformBackup records a pending platform-wide backup and submits
// its job.
func (s *DRService) CreatePlatformBackup(ctx context.Context, initiator string) (*CreatedBackup, error) {
	rec, err := s.coordinator.StartPlatformBackup(ctx, initiator, model.OriginAdmin)
	if err != nil {
		return nil, err
	}
	return submitBackup(ctx, s.runner, s.queue, s.logger, rec, jobs.TypeBackup)
}

// Verify submits a verification of the most recent completed backups.
func (s *DRService) Verify(ctx context.Context, limit int) (*CreatedJob, error) {
	h, err := s.queue.Submit(ctx, jobs.TaskSpec{Type: jobs.TypeVerify, Verify: &jobs.VerifyParams{Limit: limit}})
	if err != nil {
		return nil, fmt.Errorf("submit verify job: %w", err)
	}
	job := createdJob(h)
	return &job, nil
}

func (s *DRService) Health(ctx context.Context) (*model.HealthReport, error) {
	return s.coordinator.ComputeHealth(ctx)
}
