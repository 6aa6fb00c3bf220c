package core

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/storage"
)

type StorageService struct {
	gateway *storage.Gateway
}

func NewStorageService(gateway *storage.Gateway) *StorageService {
	return &StorageService{gateway: gateway}
}

// StorageUsage is the usage report with the active strategy.
type StorageUsage struct {
	Strategy  model.FailoverStrategy   `json:"strategy"`
	Providers []model.StorageUsageStat `json:"providers"`
}

func (s *StorageService) Usage() *StorageUsage {
	return &StorageUsage{Strategy: s.gateway.Strategy(), Providers: s.gateway.Usage()}
}

// Health pings both providers concurrently.
func (s *StorageService) Health(ctx context.Context) []model.PingResult {
	providers := []string{model.ProviderPrimary, model.ProviderSecondary}
	results := make([]model.PingResult, len(providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		g.Go(func() error {
			results[i] = s.gateway.Ping(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *StorageService) SetFailoverStrategy(ctx context.Context, strategy model.FailoverStrategy) error {
	return s.gateway.SetStrategy(ctx, strategy)
}

func (s *StorageService) ResetUsage(ctx context.Context) error {
	return s.gateway.ResetUsage(ctx)
}
