package restore

import (
	"context"
	"errors"
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

var fastRetry = backoff.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

type fixture struct {
	orch      *Orchestrator
	runner    *backup.Runner
	catalog   *catalogtest.Memory
	data      *tenantdatatest.Memory
	primary   *storagetest.Memory
	secondary *storagetest.Memory
}

func newFixture(t *testing.T, tenants ...string) *fixture {
	t.Helper()
	data := tenantdatatest.NewMemory("customers", "invoices")
	for i, id := range tenants {
		data.AddTenant(id)
		data.Insert(id, "customers", map[string]any{"id": i + 1, "name": "customer-" + id})
		data.Insert(id, "invoices", map[string]any{"id": 100 + i, "customer_id": i + 1})
	}
	primary := storagetest.NewMemory("s3")
	secondary := storagetest.NewMemory("azure")
	gw := storage.NewGateway(primary, secondary, storage.Options{Strategy: model.StrategyDualUpload, Logger: zerolog.Nop()})
	cat := catalogtest.NewMemory()
	staging := t.TempDir()

	return &fixture{
		orch:      NewOrchestrator(cat, data, gw, staging, fastRetry, zerolog.Nop()),
		runner:    backup.NewRunner(cat, artifact.NewBuilder(data, staging, zerolog.Nop()), gw, fastRetry, zerolog.Nop()),
		catalog:   cat,
		data:      data,
		primary:   primary,
		secondary: secondary,
	}
}

func (f *fixture) backupTenant(t *testing.T, tenantID string) *model.BackupRecord {
	t.Helper()
	scope := model.ScopeTenant
	if tenantID == "" {
		scope = model.ScopePlatform
	}
	ctx := context.Background()
	b, err := f.runner.Start(ctx, backup.Request{Scope: scope, TenantID: tenantID, InitiatedBy: "admin"})
	require.NoError(t, err)
	_, err = f.runner.Execute(ctx, b.ID, backup.RunOptions{})
	require.NoError(t, err)
	stored, err := f.catalog.FindBackup(ctx, b.ID)
	require.NoError(t, err)
	return stored
}

func TestValidate(t *testing.T) {
	f := newFixture(t, "t1")
	ctx := context.Background()
	b := f.backupTenant(t, "t1")

	ok, err := f.orch.Validate(ctx, b.ID, "")
	require.NoError(t, err)
	assert.True(t, ok)

	require.True(t, f.primary.Corrupt(b.ObjectKey))
	ok, err = f.orch.Validate(ctx, b.ID, model.ProviderPrimary)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.orch.Validate(ctx, b.ID, model.ProviderSecondary)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.orch.Validate(ctx, b.ID, "tertiary")
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = f.orch.Validate(ctx, "missing", "")
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestRestoreSingle_ReplacesTenantRows(t *testing.T) {
	f := newFixture(t, "t1")
	ctx := context.Background()
	b := f.backupTenant(t, "t1")

	f.data.Truncate("t1")
	f.data.Insert("t1", "customers", map[string]any{"id": 99})

	res, err := f.orch.RestoreSingle(ctx, "t1", b.ID, Options{InitiatedBy: "admin"})
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	out := res.Outcomes[0]
	assert.Equal(t, model.StatusCompleted, out.Status)
	assert.Equal(t, int64(1), out.Snapshot["customers"])
	assert.Equal(t, int64(0), out.Snapshot["invoices"])
	assert.Equal(t, 1, f.data.Count("t1", "customers"))
	assert.Equal(t, 1, f.data.Count("t1", "invoices"))

	rec, err := f.catalog.FindRestore(ctx, out.RestoreID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, res.BatchID, rec.BatchID)
	assert.NotNil(t, rec.RestorePoint)
	assert.NotNil(t, rec.StartedAt)
}

func TestRestoreSingle_ChecksumMismatchLeavesDataUntouched(t *testing.T) {
	f := newFixture(t, "t1")
	ctx := context.Background()
	b := f.backupTenant(t, "t1")

	f.data.Insert("t1", "invoices", map[string]any{"id": 500})
	before, err := f.data.Snapshot(ctx, "t1")
	require.NoError(t, err)

	require.True(t, f.primary.Corrupt(b.ObjectKey))
	res, err := f.orch.RestoreSingle(ctx, "t1", b.ID, Options{InitiatedBy: "admin"})
	require.NoError(t, err)

	out := res.Outcomes[0]
	assert.Equal(t, model.StatusFailed, out.Status)
	assert.Equal(t, errs.KindIntegrity.String(), out.ErrorKind)
	assert.Equal(t, before, out.Snapshot)

	after, err := f.data.Snapshot(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	rec, err := f.catalog.FindRestore(ctx, out.RestoreID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "checksum")
}

func TestRestoreSingle_SkipValidationIgnoresCatalogChecksum(t *testing.T) {
	f := newFixture(t, "t1")
	ctx := context.Background()
	b := f.backupTenant(t, "t1")

	tampered := *b
	tampered.Checksum = "0000"
	f.catalog.PutBackup(tampered)

	res, err := f.orch.RestoreSingle(ctx, "t1", b.ID, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Outcomes[0].Status)

	res, err = f.orch.RestoreSingle(ctx, "t1", b.ID, Options{SkipValidation: true})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, res.Outcomes[0].Status)
}

func TestRestoreMultiple_IsolatesTenantFailure(t *testing.T) {
	f := newFixture(t, "t1", "t2", "t3")
	ctx := context.Background()
	b1 := f.backupTenant(t, "t1")
	b2 := f.backupTenant(t, "t2")
	b3 := f.backupTenant(t, "t3")

	require.True(t, f.primary.Corrupt(b2.ObjectKey))

	res, err := f.orch.RestoreMultiple(ctx, []Pair{
		{TenantID: "t1", BackupID: b1.ID},
		{TenantID: "t2", BackupID: b2.ID},
		{TenantID: "t3", BackupID: b3.ID},
	}, Options{InitiatedBy: "admin"})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, 1, res.Failed)
	for tenant, want := range map[string]string{"t1": model.StatusCompleted, "t2": model.StatusFailed, "t3": model.StatusCompleted} {
		out, ok := res.Outcome(tenant)
		require.True(t, ok, tenant)
		assert.Equal(t, want, out.Status, tenant)
	}

	history, err := f.catalog.ListRestores(ctx, catalog.RestoreFilter{BatchID: res.BatchID}, 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestRestoreMultiple_ForeignTenantBackupRejected(t *testing.T) {
	f := newFixture(t, "t1", "t2")
	ctx := context.Background()
	b1 := f.backupTenant(t, "t1")

	res, err := f.orch.RestoreMultiple(ctx, []Pair{{TenantID: "t2", BackupID: b1.ID}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, errs.KindValidation.String(), res.Outcomes[0].ErrorKind)
	assert.Equal(t, 1, f.data.Count("t2", "customers"))
}

func TestRestoreMultiple_UnknownBackupIsTenantScoped(t *testing.T) {
	f := newFixture(t, "t1")
	ctx := context.Background()

	res, err := f.orch.RestoreMultiple(ctx, []Pair{{TenantID: "t1", BackupID: "nope"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Outcomes[0].Status)
	assert.Equal(t, errs.KindNotFound.String(), res.Outcomes[0].ErrorKind)
	assert.Empty(t, res.Outcomes[0].RestoreID)
}

func TestRestoreMultiple_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.RestoreMultiple(context.Background(), nil, Options{})
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = f.orch.RestoreMultiple(context.Background(), []Pair{{TenantID: "t1"}}, Options{})
	assert.True(t, errs.Is(err, errs.KindValidation))
}

type unreachableCatalog struct {
	*catalogtest.Memory
}

func (unreachableCatalog) FindBackup(ctx context.Context, id string) (*model.BackupRecord, error) {
	return nil, errors.New("dial tcp 10.0.0.5:5432: connection refused")
}

func TestRestoreMultiple_CatalogFailureAbortsBatch(t *testing.T) {
	f := newFixture(t, "t1", "t2")
	cat := unreachableCatalog{Memory: f.catalog}
	orch := NewOrchestrator(cat, f.data, nil, t.TempDir(), fastRetry, zerolog.Nop())

	res, err := orch.RestoreMultiple(context.Background(), []Pair{
		{TenantID: "t1", BackupID: "b1"},
		{TenantID: "t2", BackupID: "b2"},
	}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, res.Outcomes)
}

func TestRestoreAll_UsesNewestPointPerTenant(t *testing.T) {
	f := newFixture(t, "t1", "t2")
	ctx := context.Background()
	platformBackup := f.backupTenant(t, "")
	time.Sleep(2 * time.Millisecond)
	tenantBackup := f.backupTenant(t, "t2")

	f.data.Truncate("t1")
	f.data.Truncate("t2")

	res, err := f.orch.RestoreAll(ctx, nil, Options{InitiatedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)

	o1, _ := res.Outcome("t1")
	o2, _ := res.Outcome("t2")
	assert.Equal(t, platformBackup.ID, o1.BackupID)
	assert.Equal(t, tenantBackup.ID, o2.BackupID)
	assert.Equal(t, 1, f.data.Count("t1", "customers"))
	assert.Equal(t, 1, f.data.Count("t2", "invoices"))
}

func TestRestoreAll_NoRestorePointBeforeAsOf(t *testing.T) {
	f := newFixture(t, "t1", "t2")
	ctx := context.Background()
	f.backupTenant(t, "")

	asOf := time.Now().Add(-time.Hour)
	res, err := f.orch.RestoreAll(ctx, &asOf, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed)
	for _, o := range res.Outcomes {
		assert.Equal(t, errs.KindNotFound.String(), o.ErrorKind)
	}
}

func TestRestorePoints(t *testing.T) {
	f := newFixture(t, "t1", "t2")
	ctx := context.Background()
	f.backupTenant(t, "t1")
	f.backupTenant(t, "t2")
	time.Sleep(2 * time.Millisecond)
	f.backupTenant(t, "")

	points, err := f.orch.RestorePoints(ctx, "t1", "", 0)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, model.ScopePlatform, points[0].Scope)

	points, err = f.orch.RestorePoints(ctx, "t1", model.ProviderSecondary, 0)
	require.NoError(t, err)
	assert.Len(t, points, 2)

	_, err = f.orch.RestorePoints(ctx, "ghost", "", 0)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}
