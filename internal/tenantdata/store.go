// Package tenantdata reads and replaces the tenant-scoped business rows that
// backups capture. Row contents are opaque JSON objects.
package tenantdata

import (
	"context"
	"encoding/json"
)

// Row is one business row as it appears in an artifact.
type Row struct {
	Table    string          `json:"table"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"row"`
}

// RowSource yields rows until it returns io.EOF.
type RowSource interface {
	Next() (Row, error)
}

// Store is the relational store holding tenant business tables.
type Store interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
	ActiveTenants(ctx context.Context) ([]string, error)

	// Dump emits every row of tenantID, or of every tenant when tenantID is
	// empty, from one consistent snapshot. Tables are visited in dependency
	// order.
	Dump(ctx context.Context, tenantID string, emit func(Row) error) error

	// Snapshot counts the tenant's rows per table.
	Snapshot(ctx context.Context, tenantID string) (map[string]int64, error)

	// Apply replaces all of the tenant's rows with the rows from src that
	// belong to the tenant, in one transaction. Concurrent applies for the
	// same tenant are serialized. On error nothing is changed. The number of
	// rows written per table is returned.
	Apply(ctx context.Context, tenantID string, src RowSource) (map[string]int64, error)
}
