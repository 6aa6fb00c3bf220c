package core

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/storage"
)

func TestPlatformConfigService_Get_Success(t *testing.T) {
	db := &mockDB{}
	svc := NewPlatformConfigService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error {
		*(dest[0].(*string)) = "DUAL_UPLOAD"
		return nil
	}}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), []any{storage.StrategyKey}).Return(row)

	value, err := svc.Get(ctx, storage.StrategyKey)
	require.NoError(t, err)
	assert.Equal(t, "DUAL_UPLOAD", value)
	db.AssertExpectations(t)
}

func TestPlatformConfigService_Get_NotSet(t *testing.T) {
	db := &mockDB{}
	svc := NewPlatformConfigService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return pgx.ErrNoRows }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestPlatformConfigService_Get_DBError(t *testing.T) {
	db := &mockDB{}
	svc := NewPlatformConfigService(db)
	ctx := context.Background()

	row := &mockRow{scanFunc: func(dest ...any) error { return errors.New("connection refused") }}
	db.On("QueryRow", ctx, mock.AnythingOfType("string"), mock.Anything).Return(row)

	_, err := svc.Get(ctx, storage.StrategyKey)
	require.Error(t, err)
	assert.False(t, errs.Is(err, errs.KindNotFound))
	assert.Contains(t, err.Error(), "get platform config")
}

func TestPlatformConfigService_Set(t *testing.T) {
	db := &mockDB{}
	svc := NewPlatformConfigService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{storage.StrategyKey, "PRIMARY_ONLY"}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	require.NoError(t, svc.Set(ctx, storage.StrategyKey, "PRIMARY_ONLY"))
	db.AssertExpectations(t)
}

func TestPlatformConfigService_Set_Error(t *testing.T) {
	db := &mockDB{}
	svc := NewPlatformConfigService(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).Return(pgconn.CommandTag{}, errors.New("boom"))

	err := svc.Set(ctx, storage.StrategyKey, "PRIMARY_ONLY")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "set platform config")
}
