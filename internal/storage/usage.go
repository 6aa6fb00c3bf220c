package storage

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/model"
)

const bytesPerGiB = 1 << 30

// counters is the lock-free usage state of one provider. Cost is kept in
// nano-dollars so every update is a single atomic add.
type counters struct {
	objects    atomic.Int64
	bytes      atomic.Int64
	requests   atomic.Int64
	costNanos  atomic.Int64
	resetNanos atomic.Int64
}

func (c *counters) recordPut(size int64, p config.Prices) {
	c.objects.Add(1)
	c.bytes.Add(size)
	c.requests.Add(1)
	cost := float64(size)/bytesPerGiB*p.StoragePerGB + p.PerRequest
	c.costNanos.Add(int64(math.Round(cost * 1e9)))
}

func (c *counters) recordRequest(p config.Prices) {
	c.requests.Add(1)
	c.costNanos.Add(int64(math.Round(p.PerRequest * 1e9)))
}

func (c *counters) reset(at time.Time) {
	c.objects.Store(0)
	c.bytes.Store(0)
	c.requests.Store(0)
	c.costNanos.Store(0)
	c.resetNanos.Store(at.UnixNano())
}

func (c *counters) seed(s model.StorageUsageStat) {
	c.objects.Store(s.ObjectCount)
	c.bytes.Store(s.TotalBytes)
	c.requests.Store(s.Requests)
	c.costNanos.Store(int64(math.Round(s.EstimatedCostUSD * 1e9)))
	if s.ResetAt != nil {
		c.resetNanos.Store(s.ResetAt.UnixNano())
	}
}

func (c *counters) snapshot(provider, kind string) model.StorageUsageStat {
	stat := model.StorageUsageStat{
		Provider:         provider,
		Kind:             kind,
		ObjectCount:      c.objects.Load(),
		TotalBytes:       c.bytes.Load(),
		Requests:         c.requests.Load(),
		EstimatedCostUSD: float64(c.costNanos.Load()) / 1e9,
	}
	if n := c.resetNanos.Load(); n != 0 {
		t := time.Unix(0, n).UTC()
		stat.ResetAt = &t
	}
	return stat
}

// UsageStore persists usage counters across restarts.
type UsageStore interface {
	LoadUsage(ctx context.Context) ([]model.StorageUsageStat, error)
	SaveUsage(ctx context.Context, stats []model.StorageUsageStat) error
}

// DB is the subset of pgxpool.Pool used by PGUsageStore.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PGUsageStore keeps usage counters in the storage_usage_stats table. Saves
// write absolute values, so a flush is idempotent.
type PGUsageStore struct {
	db DB
}

func NewPGUsageStore(db DB) *PGUsageStore {
	return &PGUsageStore{db: db}
}

func (s *PGUsageStore) LoadUsage(ctx context.Context) ([]model.StorageUsageStat, error) {
	rows, err := s.db.Query(ctx,
		`SELECT provider, kind, object_count, total_bytes, requests, estimated_cost_usd, reset_at
		 FROM storage_usage_stats ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("load storage usage: %w", err)
	}
	defer rows.Close()

	var stats []model.StorageUsageStat
	for rows.Next() {
		var st model.StorageUsageStat
		if err := rows.Scan(&st.Provider, &st.Kind, &st.ObjectCount, &st.TotalBytes,
			&st.Requests, &st.EstimatedCostUSD, &st.ResetAt); err != nil {
			return nil, fmt.Errorf("scan storage usage: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate storage usage: %w", err)
	}
	return stats, nil
}

func (s *PGUsageStore) SaveUsage(ctx context.Context, stats []model.StorageUsageStat) error {
	for _, st := range stats {
		_, err := s.db.Exec(ctx,
			`INSERT INTO storage_usage_stats (provider, kind, object_count, total_bytes, requests, estimated_cost_usd, reset_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			 ON CONFLICT (provider) DO UPDATE SET
			   kind = EXCLUDED.kind,
			   object_count = EXCLUDED.object_count,
			   total_bytes = EXCLUDED.total_bytes,
			   requests = EXCLUDED.requests,
			   estimated_cost_usd = EXCLUDED.estimated_cost_usd,
			   reset_at = EXCLUDED.reset_at,
			   updated_at = now()`,
			st.Provider, st.Kind, st.ObjectCount, st.TotalBytes, st.Requests, st.EstimatedCostUSD, st.ResetAt,
		)
		if err != nil {
			return fmt.Errorf("save storage usage for %s: %w", st.Provider, err)
		}
	}
	return nil
}
