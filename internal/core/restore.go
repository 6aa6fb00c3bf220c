package core

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/platform"
	"github.com/edvin/tenantvault/internal/restore"
)

// Restore targets.
const (
	RestoreTargetTenant  = "tenant"
	RestoreTargetTenants = "tenants"
	RestoreTargetAll     = "all"
)

type RestoreService struct {
	catalog      catalog.Catalog
	orchestrator *restore.Orchestrator
	queue        jobs.Queue
}

func NewRestoreService(cat catalog.Catalog, orchestrator *restore.Orchestrator, queue jobs.Queue) *RestoreService {
	return &RestoreService{catalog: cat, orchestrator: orchestrator, queue: queue}
}

// CreateRestoreRequest describes a restore. Target tenant uses TenantID and
// BackupID, target tenants uses Pairs, target all restores every active
// tenant from its newest point at or before AsOf.
type CreateRestoreRequest struct {
	Target         string
	TenantID       string
	BackupID       string
	Pairs          []restore.Pair
	AsOf           *time.Time
	SkipValidation bool
	InitiatedBy    string
}

// CreatedRestore names the batch whose per-tenant records the job creates.
type CreatedRestore struct {
	BatchID string `json:"batch_id"`
	CreatedJob
}

func (r *CreateRestoreRequest) params() (*jobs.RestoreParams, error) {
	if r.InitiatedBy == "" {
		return nil, errs.Validation("create restore", "initiator is required")
	}
	p := &jobs.RestoreParams{
		BatchID:        platform.NewID(),
		SkipValidation: r.SkipValidation,
		InitiatedBy:    r.InitiatedBy,
	}
	switch r.Target {
	case RestoreTargetTenant:
		if r.TenantID == "" || r.BackupID == "" {
			return nil, errs.Validation("create restore", "tenant_id and backup_id are required")
		}
		p.Pairs = []restore.Pair{{TenantID: r.TenantID, BackupID: r.BackupID}}
	case RestoreTargetTenants:
		if len(r.Pairs) == 0 {
			return nil, errs.Validation("create restore", "at least one tenant/backup pair is required")
		}
		p.Pairs = r.Pairs
	case RestoreTargetAll:
		p.All = true
		p.AsOf = r.AsOf
	default:
		return nil, errs.Validation("create restore", "unknown target %q", r.Target)
	}
	return p, nil
}

// Create submits a restore job. Records are created per tenant as the job
// reaches each tenant.
func (s *RestoreService) Create(ctx context.Context, req CreateRestoreRequest) (*CreatedRestore, error) {
	p, err := req.params()
	if err != nil {
		return nil, err
	}
	h, err := s.queue.Submit(ctx, jobs.TaskSpec{Type: jobs.TypeRestore, Key: p.BatchID, Restore: p})
	if err != nil {
		return nil, fmt.Errorf("submit restore job: %w", err)
	}
	return &CreatedRestore{BatchID: p.BatchID, CreatedJob: createdJob(h)}, nil
}

func (s *RestoreService) Get(ctx context.Context, id string) (*model.RestoreRecord, error) {
	return s.catalog.FindRestore(ctx, id)
}

func (s *RestoreService) List(ctx context.Context, filter catalog.RestoreFilter, limit int) ([]model.RestoreRecord, error) {
	return s.catalog.ListRestores(ctx, filter, limit)
}

// RestorePoints lists the completed backups a tenant can be restored from
// that are held by provider.
func (s *RestoreService) RestorePoints(ctx context.Context, tenantID, provider string, limit int) ([]model.RestorePoint, error) {
	return s.orchestrator.RestorePoints(ctx, tenantID, provider, limit)
}
