package model

import "time"

// RestoreRecord tracks one tenant's restore from one backup. Records created
// by the same job share a BatchID.
type RestoreRecord struct {
	ID             string           `json:"id"`
	BatchID        string           `json:"batch_id"`
	BackupID       string           `json:"backup_id"`
	TenantID       string           `json:"tenant_id"`
	InitiatedBy    string           `json:"initiated_by"`
	Status         string           `json:"status"`
	SkipValidation bool             `json:"skip_validation"`
	Snapshot       map[string]int64 `json:"snapshot,omitempty"`
	RestorePoint   *time.Time       `json:"restore_point,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// TenantRestoreOutcome is one entry of a restore job's per-tenant result list.
type TenantRestoreOutcome struct {
	TenantID     string           `json:"tenant_id"`
	BackupID     string           `json:"backup_id,omitempty"`
	RestoreID    string           `json:"restore_id,omitempty"`
	Status       string           `json:"status"`
	Error        string           `json:"error,omitempty"`
	ErrorKind    string           `json:"error_kind,omitempty"`
	Snapshot     map[string]int64 `json:"snapshot,omitempty"`
	RestorePoint *time.Time       `json:"restore_point,omitempty"`
}

// RestoreResult is the typed outcome of a restore job.
type RestoreResult struct {
	BatchID   string                 `json:"batch_id"`
	Outcomes  []TenantRestoreOutcome `json:"outcomes"`
	Completed int                    `json:"completed"`
	Failed    int                    `json:"failed"`
}

// Add appends an outcome and updates the tallies.
func (r *RestoreResult) Add(o TenantRestoreOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Status == StatusCompleted {
		r.Completed++
	} else {
		r.Failed++
	}
}

// Outcome returns the outcome for tenantID, if present.
func (r *RestoreResult) Outcome(tenantID string) (TenantRestoreOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.TenantID == tenantID {
			return o, true
		}
	}
	return TenantRestoreOutcome{}, false
}

// RestorePoint is a candidate backup for restoring a tenant.
type RestorePoint struct {
	BackupID       string            `json:"backup_id"`
	Scope          string            `json:"scope"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	CompressedSize int64             `json:"compressed_size"`
	Checksum       string            `json:"checksum"`
	Locations      []StorageLocation `json:"locations"`
}
