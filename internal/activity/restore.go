package activity

import (
	"context"
	"time"

	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/restore"
)

// Restores contains the restore activity.
type Restores struct {
	orchestrator *restore.Orchestrator
}

// NewRestores creates a new Restores activity struct.
func NewRestores(orchestrator *restore.Orchestrator) *Restores {
	return &Restores{orchestrator: orchestrator}
}

// RestoreBatchParams holds the parameters for RestoreBatch. When All is set
// every active tenant is restored from its newest point at or before AsOf.
type RestoreBatchParams struct {
	Pairs   []restore.Pair  `json:"pairs,omitempty"`
	All     bool            `json:"all,omitempty"`
	AsOf    *time.Time      `json:"as_of,omitempty"`
	Options restore.Options `json:"options"`
}

// RestoreBatch restores a batch of tenants. Per-tenant failures are part of
// the result; only orchestration failures are returned as errors.
func (a *Restores) RestoreBatch(ctx context.Context, params RestoreBatchParams) (*model.RestoreResult, error) {
	var (
		res *model.RestoreResult
		err error
	)
	if params.All {
		res, err = a.orchestrator.RestoreAll(ctx, params.AsOf, params.Options)
	} else {
		res, err = a.orchestrator.RestoreMultiple(ctx, params.Pairs, params.Options)
	}
	return res, toTemporal(err)
}
