package activity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/backoff"
	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog/catalogtest"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/selfservice"
	"github.com/edvin/tenantvault/internal/storage"
	"github.com/edvin/tenantvault/internal/storage/storagetest"
	"github.com/edvin/tenantvault/internal/tenantdata/tenantdatatest"
)

type backupFixture struct {
	activities *Backups
	runner     *backup.Runner
	catalog    *catalogtest.Memory
	primary    *storagetest.Memory
}

func newBackupFixture(t *testing.T) *backupFixture {
	t.Helper()
	data := tenantdatatest.NewMemory("customers")
	data.AddTenant("t1")
	data.Insert("t1", "customers", map[string]any{"id": 1})

	primary := storagetest.NewMemory("s3")
	gw := storage.NewGateway(primary, storagetest.NewMemory("gcs"), storage.Options{
		Strategy: model.StrategyPrimaryOnly, Logger: zerolog.Nop(),
	})
	cat := catalogtest.NewMemory()
	retry := backoff.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond}
	runner := backup.NewRunner(cat, artifact.NewBuilder(data, t.TempDir(), zerolog.Nop()), gw, retry, zerolog.Nop())
	svc := selfservice.NewService(cat, runner, gw, data, selfservice.Config{LocalDir: t.TempDir()}, zerolog.Nop())

	return &backupFixture{
		activities: NewBackups(runner, svc, t.TempDir()),
		runner:     runner,
		catalog:    cat,
		primary:    primary,
	}
}

func TestBackups_BeginRunIssue(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	rec, err := f.runner.Start(ctx, backup.Request{
		Scope: model.ScopeTenant, TenantID: "t1", Origin: model.OriginSelfService, InitiatedBy: "u1", LimitDay: "2024-03-10",
	})
	require.NoError(t, err)

	begun, err := f.activities.BeginBackup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, begun.Status)

	res, err := f.activities.RunBackup(ctx, RunBackupParams{BackupID: rec.ID, KeepLocalCopy: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)

	tok, err := f.activities.IssueDownloadToken(ctx, rec.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Token)
	assert.True(t, tok.ExpiresAt.After(time.Now()))
}

func TestBackups_RunProviderDown_Retryable(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()
	f.primary.SetDown(true)

	rec, err := f.runner.Start(ctx, backup.Request{Scope: model.ScopePlatform, Origin: model.OriginAdmin, InitiatedBy: "ops"})
	require.NoError(t, err)
	_, err = f.activities.BeginBackup(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.activities.RunBackup(ctx, RunBackupParams{BackupID: rec.ID})
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.False(t, appErr.NonRetryable())
	assert.Equal(t, "StorageProviderError", appErr.Type())

	require.NoError(t, f.activities.FailBackup(ctx, FailBackupParams{BackupID: rec.ID, Error: appErr.Message()}))
	stored, err := f.catalog.FindBackup(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
}

func TestBackups_BeginCancelled_NonRetryable(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	rec, err := f.runner.Start(ctx, backup.Request{Scope: model.ScopePlatform, Origin: model.OriginAdmin, InitiatedBy: "ops"})
	require.NoError(t, err)
	_, err = f.runner.Cancel(ctx, rec.ID)
	require.NoError(t, err)

	_, err = f.activities.BeginBackup(ctx, rec.ID)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
	assert.Equal(t, "BusinessRuleError", appErr.Type())
}

func TestBackups_IssueTokenForAdminBackup(t *testing.T) {
	f := newBackupFixture(t)
	ctx := context.Background()

	rec, err := f.runner.Start(ctx, backup.Request{Scope: model.ScopeTenant, TenantID: "t1", Origin: model.OriginAdmin, InitiatedBy: "ops"})
	require.NoError(t, err)

	_, err = f.activities.IssueDownloadToken(ctx, rec.ID)
	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.True(t, appErr.NonRetryable())
}
