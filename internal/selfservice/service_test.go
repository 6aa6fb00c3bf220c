package selfservice

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/backoff"
	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/catalog/catalogtest"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/storage"
	"github.com/edvin/tenantvault/internal/storage/storagetest"
	"github.com/edvin/tenantvault/internal/tenantdata/tenantdatatest"
)

type fixture struct {
	svc      *Service
	catalog  *catalogtest.Memory
	data     *tenantdatatest.Memory
	primary  *storagetest.Memory
	gateway  *storage.Gateway
	localDir string
	clock    time.Time
}

func newFixture(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	data := tenantdatatest.NewMemory("customers", "invoices")
	data.AddTenant("t1")
	data.Insert("t1", "customers", map[string]any{"id": 1, "name": "Acme"})

	primary := storagetest.NewMemory("s3")
	secondary := storagetest.NewMemory("gcs")
	gw := storage.NewGateway(primary, secondary, storage.Options{Strategy: model.StrategySecondaryFallback, Logger: zerolog.Nop()})
	cat := catalogtest.NewMemory()
	retry := backoff.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond}
	runner := backup.NewRunner(cat, artifact.NewBuilder(data, t.TempDir(), zerolog.Nop()), gw, retry, zerolog.Nop())

	f := &fixture{
		catalog:  cat,
		data:     data,
		primary:  primary,
		gateway:  gw,
		localDir: t.TempDir(),
		clock:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(cat, runner, gw, data, Config{LocalDir: f.localDir, TokenTTL: 24 * time.Hour, Location: loc}, zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func TestCreate_OncePerCalendarDay(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	allowed, err := f.svc.CheckDailyLimit(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, allowed)

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.DownloadToken)
	require.NotNil(t, res.TokenExpiresAt)
	assert.Equal(t, f.clock.Add(24*time.Hour), *res.TokenExpiresAt)

	allowed, err = f.svc.CheckDailyLimit(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, allowed)

	_, err = f.svc.Create(ctx, "t1", "user-1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindBusinessRule))
	assert.Equal(t, catalog.CodeDailyLimit, errs.CodeOf(err))

	f.clock = f.clock.Add(24 * time.Hour)
	_, err = f.svc.Create(ctx, "t1", "user-1")
	assert.NoError(t, err)
}

func TestCreate_FailedBackupStillCounts(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	f.data.FailDump(assert.AnError)
	_, err := f.svc.Create(ctx, "t1", "user-1")
	require.Error(t, err)

	f.data.FailDump(nil)
	_, err = f.svc.Create(ctx, "t1", "user-1")
	assert.Equal(t, catalog.CodeDailyLimit, errs.CodeOf(err))
}

func TestComplete_CancelledGetsNoToken(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	b, err := f.svc.Begin(ctx, "t1", "user-1")
	require.NoError(t, err)
	require.NoError(t, f.catalog.UpdateBackup(ctx, b.ID, model.StatusCancelled, catalog.BackupUpdate{}))

	res, err := f.svc.Complete(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, res.Status)
	assert.Empty(t, res.DownloadToken)
	assert.Equal(t, 0, f.catalog.Tokens())
}

func TestReissueToken(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)

	_, err = f.svc.ReissueToken(ctx, "t2", res.BackupID)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	f.clock = f.clock.Add(48 * time.Hour)
	tok, err := f.svc.ReissueToken(ctx, "t1", res.BackupID)
	require.NoError(t, err)
	assert.NotEqual(t, res.DownloadToken, tok.Token)
	assert.Equal(t, f.clock.Add(24*time.Hour), tok.ExpiresAt)

	dl, err := f.svc.DownloadByToken(ctx, tok.Token)
	require.NoError(t, err)
	dl.Body.Close()
	assert.Equal(t, res.BackupID, dl.Backup.ID)
}

func TestCheckDailyLimit_UsesConfiguredZone(t *testing.T) {
	f := newFixture(t, time.FixedZone("UTC-5", -5*3600))
	ctx := context.Background()

	f.clock = time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC) // 9 March locally
	_, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)

	f.clock = time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC) // 10 March locally
	allowed, err := f.svc.CheckDailyLimit(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBegin_UnknownTenant(t *testing.T) {
	f := newFixture(t, time.UTC)
	_, err := f.svc.Begin(context.Background(), "ghost", "user-1")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDownloadByToken(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		dl, err := f.svc.DownloadByToken(ctx, res.DownloadToken)
		require.NoError(t, err)
		_, ok, err := artifact.Verify(dl.Body, res.Checksum)
		require.NoError(t, err)
		assert.True(t, ok)
		dl.Body.Close()
		assert.Equal(t, res.BackupID, dl.Backup.ID)
	}

	tok, err := f.catalog.FindDownloadToken(ctx, res.DownloadToken)
	require.NoError(t, err)
	assert.NotNil(t, tok.DownloadedAt)
}

func TestDownloadByToken_FallsBackToStoredArtifact(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)
	require.NoError(t, os.Remove(artifact.LocalCopyPath(f.localDir, res.BackupID)))

	dl, err := f.svc.DownloadByToken(ctx, res.DownloadToken)
	require.NoError(t, err)
	defer dl.Body.Close()
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	assert.Equal(t, res.CompressedSize, int64(len(data)))
}

func TestDownloadByToken_ExpiredOrUnknown(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)

	_, err = f.svc.DownloadByToken(ctx, "not-a-token")
	assert.True(t, errs.Is(err, errs.KindNotFound))

	f.clock = f.clock.Add(24 * time.Hour)
	_, err = f.svc.DownloadByToken(ctx, res.DownloadToken)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	assert.Contains(t, err.Error(), "expired")

	b, err := f.catalog.FindBackup(ctx, res.BackupID)
	require.NoError(t, err)
	assert.True(t, b.Restorable())
}

func TestIssueToken_RejectsAdminBackups(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()
	b := model.BackupRecord{ID: "b1", Scope: model.ScopeTenant, TenantID: "t1", Origin: model.OriginAdmin, Status: model.StatusCompleted}
	f.catalog.PutBackup(b)

	_, err := f.svc.IssueToken(ctx, "b1")
	assert.True(t, errs.Is(err, errs.KindBusinessRule))
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)
	local := artifact.LocalCopyPath(f.localDir, res.BackupID)

	out, err := f.svc.CleanupExpired(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 0, out.TokensRemoved)
	assert.FileExists(t, local)

	f.clock = f.clock.Add(72 * time.Hour)
	out, err = f.svc.CleanupExpired(ctx, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 1, out.TokensRemoved)
	assert.Equal(t, 1, out.FilesRemoved)
	assert.Equal(t, res.CompressedSize, out.BytesFreed)
	assert.NoFileExists(t, local)

	_, err = f.catalog.FindBackup(ctx, res.BackupID)
	assert.NoError(t, err)

	_, err = f.svc.CleanupExpired(ctx, -1, false)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestCleanupExpired_DeletesRecords(t *testing.T) {
	f := newFixture(t, time.UTC)
	ctx := context.Background()

	res, err := f.svc.Create(ctx, "t1", "user-1")
	require.NoError(t, err)

	f.clock = f.clock.Add(72 * time.Hour)
	out, err := f.svc.CleanupExpired(ctx, 1, true)
	require.NoError(t, err)
	assert.Equal(t, 1, out.RecordsDeleted)
	assert.Equal(t, 1, out.ArtifactsPurged)
	assert.Empty(t, out.Errors)
	assert.False(t, f.primary.Has(res.ObjectKey))

	_, err = f.catalog.FindBackup(ctx, res.BackupID)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
