package model

import "time"

const (
	ScopeTenant   = "tenant"
	ScopePlatform = "platform"
)

// Backup origins.
const (
	OriginAdmin       = "admin"
	OriginSelfService = "self_service"
	OriginScheduled   = "scheduled"
)

// Storage provider roles.
const (
	ProviderPrimary   = "primary"
	ProviderSecondary = "secondary"
)

// BackupRecord is the catalog entry for one backup artifact.
type BackupRecord struct {
	ID             string            `json:"id"`
	Scope          string            `json:"scope"`
	TenantID       string            `json:"tenant_id,omitempty"`
	Origin         string            `json:"origin"`
	InitiatedBy    string            `json:"initiated_by"`
	Status         string            `json:"status"`
	RawSize        int64             `json:"raw_size"`
	CompressedSize int64             `json:"compressed_size"`
	Checksum       string            `json:"checksum,omitempty"`
	ObjectKey      string            `json:"object_key,omitempty"`
	Locations      []StorageLocation `json:"locations"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	DurationMs     *int64            `json:"duration_ms,omitempty"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	PurgedAt       *time.Time        `json:"purged_at,omitempty"`

	// LimitDay is the calendar day (YYYY-MM-DD) a self-service backup counts
	// against. Only set for self-service records.
	LimitDay string `json:"-"`
}

// StorageLocation records where one copy of an artifact was uploaded.
type StorageLocation struct {
	Provider   string    `json:"provider"`
	Key        string    `json:"key"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Location returns the location stored on provider, if any.
func (b *BackupRecord) Location(provider string) (StorageLocation, bool) {
	for _, l := range b.Locations {
		if l.Provider == provider {
			return l, true
		}
	}
	return StorageLocation{}, false
}

// Restorable reports whether the record can serve as a restore source.
func (b *BackupRecord) Restorable() bool {
	return b.Status == StatusCompleted && b.PurgedAt == nil && b.Checksum != "" && len(b.Locations) > 0
}

// BackupResult is the typed outcome of a backup job.
type BackupResult struct {
	BackupID       string            `json:"backup_id"`
	Status         string            `json:"status"`
	ObjectKey      string            `json:"object_key,omitempty"`
	RawSize        int64             `json:"raw_size"`
	CompressedSize int64             `json:"compressed_size"`
	Checksum       string            `json:"checksum,omitempty"`
	Locations      []StorageLocation `json:"locations,omitempty"`
	DownloadToken  string            `json:"download_token,omitempty"`
	TokenExpiresAt *time.Time        `json:"token_expires_at,omitempty"`
	Error          string            `json:"error,omitempty"`
}
