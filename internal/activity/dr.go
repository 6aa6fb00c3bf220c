package activity

import (
	"context"

	"github.com/edvin/tenantvault/internal/dr"
	"github.com/edvin/tenantvault/internal/model"
)

// DR contains disaster-recovery activities.
type DR struct {
	coordinator *dr.Coordinator
}

// NewDR creates a new DR activity struct.
func NewDR(coordinator *dr.Coordinator) *DR {
	return &DR{coordinator: coordinator}
}

// StartPlatformBackupParams holds the parameters for StartPlatformBackup.
type StartPlatformBackupParams struct {
	InitiatedBy string `json:"initiated_by"`
	Origin      string `json:"origin"`
}

// StartPlatformBackup records a pending platform-wide backup.
func (a *DR) StartPlatformBackup(ctx context.Context, params StartPlatformBackupParams) (*model.BackupRecord, error) {
	b, err := a.coordinator.StartPlatformBackup(ctx, params.InitiatedBy, params.Origin)
	return b, toTemporal(err)
}

// VerifyRecentBackups re-checksums the most recent completed backups on
// every provider holding a copy.
func (a *DR) VerifyRecentBackups(ctx context.Context, limit int) (*model.VerificationResult, error) {
	res, err := a.coordinator.VerifyRecent(ctx, limit)
	return res, toTemporal(err)
}

// ComputeHealth scores the current disaster-recovery posture.
func (a *DR) ComputeHealth(ctx context.Context) (*model.HealthReport, error) {
	rep, err := a.coordinator.ComputeHealth(ctx)
	return rep, toTemporal(err)
}
