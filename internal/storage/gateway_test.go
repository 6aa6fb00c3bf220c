package storage_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/storage"
	"github.com/edvin/tenantvault/internal/storage/storagetest"
)

func newGateway(strategy model.FailoverStrategy) (*storage.Gateway, *storagetest.Memory, *storagetest.Memory) {
	primary := storagetest.NewMemory("s3")
	secondary := storagetest.NewMemory("gcs")
	gw := storage.NewGateway(primary, secondary, storage.Options{
		Strategy: strategy,
		Prices: map[string]config.Prices{
			"s3":  {StoragePerGB: 0.02, PerRequest: 0.000001},
			"gcs": {StoragePerGB: 0.01, PerRequest: 0.000002},
		},
		Logger: zerolog.Nop(),
	})
	return gw, primary, secondary
}

func TestUpload_PrimaryOnly(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategyPrimaryOnly)

	locs, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, model.ProviderPrimary, locs[0].Provider)
	assert.Equal(t, "k1", locs[0].Key)
	assert.True(t, primary.Has("k1"))
	assert.False(t, secondary.Has("k1"))
}

func TestUpload_PrimaryOnly_FailurePropagates(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategyPrimaryOnly)
	primary.FailPuts(true)

	_, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindStorageProvider))
	assert.False(t, secondary.Has("k1"))
}

func TestUpload_SecondaryFallback_PrimaryFails(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategySecondaryFallback)
	primary.FailPuts(true)

	locs, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, model.ProviderSecondary, locs[0].Provider)
	assert.False(t, primary.Has("k1"))
	assert.True(t, secondary.Has("k1"))
}

func TestUpload_SecondaryFallback_PrimaryOK(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategySecondaryFallback)

	locs, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, model.ProviderPrimary, locs[0].Provider)
	assert.True(t, primary.Has("k1"))
	assert.Equal(t, 0, secondary.Puts())
}

func TestUpload_SecondaryFallback_BothFail(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategySecondaryFallback)
	primary.FailPuts(true)
	secondary.FailPuts(true)

	_, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindStorageProvider))
	assert.ErrorIs(t, err, storagetest.ErrUnavailable)
}

func TestUpload_DualUpload(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategyDualUpload)

	locs, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, model.ProviderPrimary, locs[0].Provider)
	assert.Equal(t, model.ProviderSecondary, locs[1].Provider)
	assert.True(t, primary.Has("k1"))
	assert.True(t, secondary.Has("k1"))
}

func TestUpload_DualUpload_OneFails(t *testing.T) {
	gw, _, secondary := newGateway(model.StrategyDualUpload)
	secondary.FailPuts(true)

	locs, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, model.ProviderPrimary, locs[0].Provider)
}

func TestUpload_DualUpload_BothFailIsTotalFailure(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategyDualUpload)
	primary.FailPuts(true)
	secondary.FailPuts(true)

	locs, err := gw.Upload(context.Background(), "k1", storage.BytesBody("hello"))
	require.Error(t, err)
	assert.Nil(t, locs)
	assert.True(t, errs.Is(err, errs.KindStorageProvider))
}

func TestDownload_SecondaryServesAfterPrimaryOutage(t *testing.T) {
	gw, primary, _ := newGateway(model.StrategyDualUpload)
	ctx := context.Background()

	_, err := gw.Upload(ctx, "k1", storage.BytesBody("payload"))
	require.NoError(t, err)

	primary.SetDown(true)

	data, err := gw.Download(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	rc, servedBy, err := gw.Open(ctx, "k1", "")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, model.ProviderSecondary, servedBy)
}

func TestDownload_FallbackWhenObjectOnlyOnSecondary(t *testing.T) {
	gw, primary, _ := newGateway(model.StrategySecondaryFallback)
	ctx := context.Background()
	primary.FailPuts(true)

	_, err := gw.Upload(ctx, "k1", storage.BytesBody("payload"))
	require.NoError(t, err)
	primary.FailPuts(false)

	data, err := gw.Download(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownload_MissingEverywhereIsNotFound(t *testing.T) {
	gw, _, _ := newGateway(model.StrategyDualUpload)

	_, err := gw.Download(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDownload_BothDownIsProviderError(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategyDualUpload)
	primary.SetDown(true)
	secondary.SetDown(true)

	_, err := gw.Download(context.Background(), "k1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindStorageProvider))
}

func TestOpen_SpecificProvider(t *testing.T) {
	gw, _, _ := newGateway(model.StrategyPrimaryOnly)
	ctx := context.Background()
	_, err := gw.Upload(ctx, "k1", storage.BytesBody("x"))
	require.NoError(t, err)

	_, _, err = gw.Open(ctx, "k1", model.ProviderSecondary)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	rc, servedBy, err := gw.Open(ctx, "k1", model.ProviderPrimary)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "x", string(body))
	assert.Equal(t, model.ProviderPrimary, servedBy)

	_, _, err = gw.Open(ctx, "k1", "tertiary")
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestDelete_NonexistentKeySucceeds(t *testing.T) {
	gw, _, _ := newGateway(model.StrategyDualUpload)

	ok, err := gw.Delete(context.Background(), "does/not/exist")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDelete_RemovesFromBoth(t *testing.T) {
	gw, primary, secondary := newGateway(model.StrategyDualUpload)
	ctx := context.Background()
	_, err := gw.Upload(ctx, "k1", storage.BytesBody("x"))
	require.NoError(t, err)

	ok, err := gw.Delete(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, primary.Has("k1"))
	assert.False(t, secondary.Has("k1"))
}

func TestDelete_ProviderDown(t *testing.T) {
	gw, _, secondary := newGateway(model.StrategyDualUpload)
	secondary.SetDown(true)

	ok, err := gw.Delete(context.Background(), "k1")
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errs.Is(err, errs.KindStorageProvider))
}

func TestList_UnionOfProviders(t *testing.T) {
	gw, primary, _ := newGateway(model.StrategyDualUpload)
	ctx := context.Background()

	_, err := gw.Upload(ctx, "backups/a", storage.BytesBody("aa"))
	require.NoError(t, err)
	primary.FailPuts(true)
	_, err = gw.Upload(ctx, "backups/b", storage.BytesBody("bbb"))
	require.NoError(t, err)
	_, err = gw.Upload(ctx, "other/c", storage.BytesBody("c"))
	require.NoError(t, err)

	objects, err := gw.List(ctx, "backups/")
	require.NoError(t, err)
	require.Len(t, objects, 2)
	assert.Equal(t, "backups/a", objects[0].Key)
	assert.Equal(t, int64(2), objects[0].Size)
	assert.Equal(t, []string{model.ProviderPrimary, model.ProviderSecondary}, objects[0].Providers)
	assert.Equal(t, []string{model.ProviderSecondary}, objects[1].Providers)
}

func TestList_OneProviderDownTolerated(t *testing.T) {
	gw, primary, _ := newGateway(model.StrategyDualUpload)
	ctx := context.Background()
	_, err := gw.Upload(ctx, "backups/a", storage.BytesBody("aa"))
	require.NoError(t, err)
	primary.SetDown(true)

	objects, err := gw.List(ctx, "backups/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
}

func TestPing_NeverErrors(t *testing.T) {
	gw, primary, _ := newGateway(model.StrategyDualUpload)
	primary.SetDown(true)

	res := gw.Ping(context.Background(), model.ProviderPrimary)
	assert.False(t, res.Available)
	assert.Equal(t, "provider unavailable", res.Error)
	assert.Equal(t, "s3", res.Kind)

	res = gw.Ping(context.Background(), model.ProviderSecondary)
	assert.True(t, res.Available)
	assert.Empty(t, res.Error)

	res = gw.Ping(context.Background(), "nowhere")
	assert.False(t, res.Available)
	assert.NotEmpty(t, res.Error)
}

func TestUsage_AccumulatesAndResets(t *testing.T) {
	gw, _, _ := newGateway(model.StrategyDualUpload)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := gw.Upload(ctx, "k", storage.BytesBody("12345"))
		require.NoError(t, err)
	}
	_, err := gw.Download(ctx, "k")
	require.NoError(t, err)

	usage := gw.Usage()
	require.Len(t, usage, 2)
	assert.Equal(t, model.ProviderPrimary, usage[0].Provider)
	assert.Equal(t, int64(3), usage[0].ObjectCount)
	assert.Equal(t, int64(15), usage[0].TotalBytes)
	assert.Equal(t, int64(4), usage[0].Requests)
	assert.Greater(t, usage[0].EstimatedCostUSD, 0.0)
	assert.Equal(t, int64(3), usage[1].ObjectCount)
	assert.Equal(t, int64(3), usage[1].Requests)

	require.NoError(t, gw.ResetUsage(ctx))
	usage = gw.Usage()
	assert.Equal(t, int64(0), usage[0].ObjectCount)
	assert.Equal(t, 0.0, usage[0].EstimatedCostUSD)
	assert.NotNil(t, usage[0].ResetAt)
}

func TestUsage_ConcurrentUploads(t *testing.T) {
	gw, _, _ := newGateway(model.StrategyPrimaryOnly)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gw.Upload(ctx, "k", storage.BytesBody("ab"))
		}()
	}
	wg.Wait()

	usage := gw.Usage()
	assert.Equal(t, int64(50), usage[0].ObjectCount)
	assert.Equal(t, int64(100), usage[0].TotalBytes)
}

type memSettings struct {
	values map[string]string
	err    error
}

func (m *memSettings) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", errs.NotFound("get setting", "%s not set", key)
	}
	return v, nil
}

func (m *memSettings) Set(ctx context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[key] = value
	return nil
}

func TestStrategy_PersistedAndLoaded(t *testing.T) {
	settings := &memSettings{values: map[string]string{}}
	ctx := context.Background()

	gw := storage.NewGateway(storagetest.NewMemory("s3"), storagetest.NewMemory("s3"), storage.Options{Settings: settings, Logger: zerolog.Nop()})
	require.NoError(t, gw.Init(ctx))
	assert.Equal(t, model.StrategySecondaryFallback, gw.Strategy())

	require.NoError(t, gw.SetStrategy(ctx, model.StrategyDualUpload))
	assert.Equal(t, "DUAL_UPLOAD", settings.values[storage.StrategyKey])

	restarted := storage.NewGateway(storagetest.NewMemory("s3"), storagetest.NewMemory("s3"), storage.Options{Settings: settings, Logger: zerolog.Nop()})
	require.NoError(t, restarted.Init(ctx))
	assert.Equal(t, model.StrategyDualUpload, restarted.Strategy())
}

func TestSetStrategy_Invalid(t *testing.T) {
	gw, _, _ := newGateway(model.StrategyDualUpload)

	err := gw.SetStrategy(context.Background(), "RANDOM")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Equal(t, model.StrategyDualUpload, gw.Strategy())
}

func TestSetStrategy_PersistFailureKeepsOldStrategy(t *testing.T) {
	settings := &memSettings{values: map[string]string{}, err: errors.New("db down")}
	gw := storage.NewGateway(storagetest.NewMemory("s3"), storagetest.NewMemory("s3"), storage.Options{
		Strategy: model.StrategyPrimaryOnly, Settings: settings, Logger: zerolog.Nop(),
	})

	err := gw.SetStrategy(context.Background(), model.StrategyDualUpload)
	require.Error(t, err)
	assert.Equal(t, model.StrategyPrimaryOnly, gw.Strategy())
}
