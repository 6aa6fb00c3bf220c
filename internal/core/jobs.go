package core

import (
	"context"
	"time"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/dr"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/restore"
	"github.com/edvin/tenantvault/internal/selfservice"
)

type JobService struct {
	queue jobs.Queue
}

func NewJobService(queue jobs.Queue) *JobService {
	return &JobService{queue: queue}
}

// Status returns the status of a job.
func (s *JobService) Status(ctx context.Context, id string) (*jobs.JobStatus, error) {
	h, err := jobs.NewJobHandle(s.queue, id)
	if err != nil {
		return nil, err
	}
	return h.Poll(ctx)
}

// JobRunner executes jobs in-process for the local queue backend.
type JobRunner struct {
	runner       *backup.Runner
	orchestrator *restore.Orchestrator
	coordinator  *dr.Coordinator
	selfService  *selfservice.Service
	now          func() time.Time
}

var _ jobs.Runner = (*JobRunner)(nil)

func NewJobRunner(runner *backup.Runner, orchestrator *restore.Orchestrator, coordinator *dr.Coordinator, selfService *selfservice.Service) *JobRunner {
	return &JobRunner{
		runner:       runner,
		orchestrator: orchestrator,
		coordinator:  coordinator,
		selfService:  selfService,
		now:          time.Now,
	}
}

func (r *JobRunner) RunBackup(ctx context.Context, p jobs.BackupParams) (*model.BackupResult, error) {
	return r.runner.Execute(ctx, p.BackupID, backup.RunOptions{})
}

func (r *JobRunner) RunSelfServiceBackup(ctx context.Context, p jobs.BackupParams) (*model.BackupResult, error) {
	return r.selfService.Complete(ctx, p.BackupID)
}

func (r *JobRunner) RunRestore(ctx context.Context, p jobs.RestoreParams) (*model.RestoreResult, error) {
	if p.All {
		return r.orchestrator.RestoreAll(ctx, p.AsOf, p.Options())
	}
	return r.orchestrator.RestoreMultiple(ctx, p.Pairs, p.Options())
}

func (r *JobRunner) RunVerify(ctx context.Context, p jobs.VerifyParams) (*model.VerificationResult, error) {
	return r.coordinator.VerifyRecent(ctx, p.Limit)
}

func (r *JobRunner) RunSelfServiceCleanup(ctx context.Context, p jobs.CleanupParams) (*model.CleanupResult, error) {
	return r.selfService.CleanupExpired(ctx, p.OlderThanDays, p.DeleteRecords)
}

func (r *JobRunner) RunRetention(ctx context.Context, p jobs.RetentionParams) (*model.CleanupResult, error) {
	return r.runner.PurgeExpired(ctx, r.now().AddDate(0, 0, -p.RetentionDays))
}
