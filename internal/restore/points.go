package restore

import (
	"context"
	"fmt"

	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/storage"
)

// RestorePoints lists the completed backups a tenant can be restored from,
// newest first: the tenant's own backups and platform backups. A non-empty
// provider keeps only backups with a copy on that provider.
func (o *Orchestrator) RestorePoints(ctx context.Context, tenantID, provider string, limit int) ([]model.RestorePoint, error) {
	if tenantID == "" {
		return nil, errs.Validation("restore points", "tenant id is required")
	}
	if provider != "" && !storage.ValidProvider(provider) {
		return nil, errs.Validation("restore points", "unknown provider %q", provider)
	}
	exists, err := o.data.TenantExists(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("check tenant %s: %w", tenantID, err)
	}
	if !exists {
		return nil, errs.NotFound("restore points", "tenant %s not found", tenantID)
	}

	backups, err := o.catalog.ListBackups(ctx, catalog.BackupFilter{
		TenantID:        tenantID,
		IncludePlatform: true,
		Status:          model.StatusCompleted,
		Provider:        provider,
	}, limit)
	if err != nil {
		return nil, err
	}

	points := make([]model.RestorePoint, 0, len(backups))
	for _, b := range backups {
		points = append(points, model.RestorePoint{
			BackupID:       b.ID,
			Scope:          b.Scope,
			CompletedAt:    b.CompletedAt,
			CompressedSize: b.CompressedSize,
			Checksum:       b.Checksum,
			Locations:      b.Locations,
		})
	}
	return points, nil
}
