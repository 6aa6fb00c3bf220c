package catalogtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
)

func pending(id, tenant string, at time.Time) *model.BackupRecord {
	scope := model.ScopeTenant
	if tenant == "" {
		scope = model.ScopePlatform
	}
	return &model.BackupRecord{
		ID: id, Scope: scope, TenantID: tenant, Origin: model.OriginAdmin,
		InitiatedBy: "admin", Status: model.StatusPending, CreatedAt: at,
	}
}

func TestMemory_LifecycleIsMonotonic(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateBackup(ctx, pending("b1", "t1", time.Now())))

	require.NoError(t, m.UpdateBackup(ctx, "b1", model.StatusInProgress, catalog.BackupUpdate{}))
	sum := "abc"
	require.NoError(t, m.UpdateBackup(ctx, "b1", model.StatusCompleted, catalog.BackupUpdate{
		Checksum:  &sum,
		Locations: []model.StorageLocation{{Provider: model.ProviderPrimary, Key: "k"}},
	}))

	err := m.UpdateBackup(ctx, "b1", model.StatusFailed, catalog.BackupUpdate{})
	assert.True(t, errs.Is(err, errs.KindBusinessRule))

	b, err := m.FindBackup(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, b.Status)
}

func TestMemory_DailyLimitUnique(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := pending("b1", "t1", time.Now())
	first.LimitDay = "2026-03-01"
	require.NoError(t, m.CreateBackup(ctx, first))

	second := pending("b2", "t1", time.Now())
	second.LimitDay = "2026-03-01"
	err := m.CreateBackup(ctx, second)
	assert.Equal(t, catalog.CodeDailyLimit, errs.CodeOf(err))

	other := pending("b3", "t2", time.Now())
	other.LimitDay = "2026-03-01"
	assert.NoError(t, m.CreateBackup(ctx, other))
}

func TestMemory_ListBackupsOrderAndFilter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.CreateBackup(ctx, pending("b1", "t1", base)))
	require.NoError(t, m.CreateBackup(ctx, pending("b2", "t2", base.Add(time.Hour))))
	require.NoError(t, m.CreateBackup(ctx, pending("p1", "", base.Add(2*time.Hour))))
	require.NoError(t, m.MarkBackupPurged(ctx, "b2", base))

	all, err := m.ListBackups(ctx, catalog.BackupFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "p1", all[0].ID)

	mine, err := m.ListBackups(ctx, catalog.BackupFilter{TenantID: "t1", IncludePlatform: true}, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	withPurged, err := m.ListBackups(ctx, catalog.BackupFilter{TenantID: "t2", IncludePurged: true}, 0)
	require.NoError(t, err)
	assert.Len(t, withPurged, 1)
}

func TestMemory_DeleteBackupCascadesTokens(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.CreateBackup(ctx, pending("b1", "t1", time.Now())))
	require.NoError(t, m.CreateDownloadToken(ctx, &model.DownloadToken{
		Token: "tok", BackupID: "b1", TenantID: "t1", ExpiresAt: time.Now().Add(time.Hour),
	}))
	assert.Equal(t, 1, m.Tokens())

	require.NoError(t, m.DeleteBackup(ctx, "b1"))
	assert.Equal(t, 0, m.Tokens())

	_, err := m.FindDownloadToken(ctx, "tok")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
