package storage

import (
	"context"
	"fmt"

	"github.com/edvin/tenantvault/internal/config"
)

// NewProvider builds the backend selected by cfg.Kind.
func NewProvider(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case config.ProviderKindS3:
		return NewS3Provider(cfg), nil
	case config.ProviderKindGCS:
		return NewGCSProvider(ctx, cfg)
	case config.ProviderKindAzure:
		return NewAzureProvider(cfg)
	}
	return nil, fmt.Errorf("unknown storage provider kind %q", cfg.Kind)
}
