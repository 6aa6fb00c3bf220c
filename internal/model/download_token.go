package model

import "time"

// DownloadToken grants time-boxed retrieval of one self-service backup.
// Token is only populated when the token is minted; the catalog stores its hash.
type DownloadToken struct {
	Token        string     `json:"token,omitempty"`
	TokenHash    string     `json:"-"`
	BackupID     string     `json:"backup_id"`
	TenantID     string     `json:"tenant_id"`
	ExpiresAt    time.Time  `json:"expires_at"`
	DownloadedAt *time.Time `json:"downloaded_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Expired reports whether the token is expired at now.
func (t *DownloadToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// CleanupResult is the typed outcome of a cleanup job.
type CleanupResult struct {
	TokensRemoved   int      `json:"tokens_removed"`
	FilesRemoved    int      `json:"files_removed"`
	RecordsDeleted  int      `json:"records_deleted"`
	ArtifactsPurged int      `json:"artifacts_purged"`
	BytesFreed      int64    `json:"bytes_freed"`
	Errors          []string `json:"errors,omitempty"`
}
