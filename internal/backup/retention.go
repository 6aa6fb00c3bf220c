package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/model"
)

// PurgeExpired removes the stored artifacts of completed backups created
// before cutoff. Catalog rows are kept with purged_at set. Failures on one
// backup are collected and do not stop the others.
func (r *Runner) PurgeExpired(ctx context.Context, cutoff time.Time) (*model.CleanupResult, error) {
	result := &model.CleanupResult{}
	skip := make(map[string]bool)

	for {
		backups, err := r.catalog.ListBackups(ctx, catalog.BackupFilter{
			Status:        model.StatusCompleted,
			CreatedBefore: &cutoff,
		}, catalog.MaxLimit)
		if err != nil {
			return result, fmt.Errorf("list expired backups: %w", err)
		}

		progressed := false
		for _, b := range backups {
			if skip[b.ID] {
				continue
			}
			if err := r.purge(ctx, &b); err != nil {
				skip[b.ID] = true
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", b.ID, err))
				r.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("purging backup artifact failed")
				continue
			}
			progressed = true
			result.ArtifactsPurged++
			result.BytesFreed += b.CompressedSize
		}
		if !progressed || len(backups) < catalog.MaxLimit {
			break
		}
	}

	r.logger.Info().Int("purged", result.ArtifactsPurged).Int64("bytes_freed", result.BytesFreed).
		Int("errors", len(result.Errors)).Time("cutoff", cutoff).Msg("retention cleanup finished")
	return result, nil
}

func (r *Runner) purge(ctx context.Context, b *model.BackupRecord) error {
	if b.ObjectKey != "" {
		if _, err := r.storage.Delete(ctx, b.ObjectKey); err != nil {
			return err
		}
	}
	return r.catalog.MarkBackupPurged(ctx, b.ID, r.now())
}
