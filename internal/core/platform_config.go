package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/storage"
)

// PlatformConfigService stores administrative settings such as the active
// failover strategy in the platform_config table.
type PlatformConfigService struct {
	db DB
}

var _ storage.SettingsStore = (*PlatformConfigService)(nil)

func NewPlatformConfigService(db DB) *PlatformConfigService {
	return &PlatformConfigService{db: db}
}

func (s *PlatformConfigService) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRow(ctx,
		"SELECT value FROM platform_config WHERE key = $1", key,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.NotFound("get platform config", "key %q not set", key)
	}
	if err != nil {
		return "", fmt.Errorf("get platform config %q: %w", key, err)
	}
	return value, nil
}

func (s *PlatformConfigService) Set(ctx context.Context, key, value string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO platform_config (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set platform config %q: %w", key, err)
	}
	return nil
}
