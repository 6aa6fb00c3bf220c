// Package artifact builds and reads backup artifacts: gzip-compressed JSON
// lines, one business row per line, checksummed with SHA-256 over the
// compressed bytes.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/edvin/tenantvault/internal/model"
)

const (
	keyTimeLayout = "20060102T150405Z"
	fileSuffix    = ".jsonl.gz"
)

// Artifact is a built backup file in the staging directory.
type Artifact struct {
	Path           string `json:"path"`
	Key            string `json:"key"`
	RawSize        int64  `json:"raw_size"`
	CompressedSize int64  `json:"compressed_size"`
	Checksum       string `json:"checksum"`
	Rows           int64  `json:"rows"`
}

// BuildError reports that the scope could not be read consistently. It is
// never retried; the owning record is failed.
type BuildError struct {
	BackupID string
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build artifact for backup %s: %v", e.BackupID, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Key returns the object key for a backup. Tenant artifacts live under the
// tenant's prefix so they can be listed per tenant.
func Key(scope, tenantID, backupID string, createdAt time.Time) string {
	name := createdAt.UTC().Format(keyTimeLayout) + "-" + backupID + fileSuffix
	if scope == model.ScopeTenant {
		return TenantPrefix(tenantID) + name
	}
	return "backups/platform/" + name
}

// TenantPrefix returns the key prefix holding a tenant's artifacts.
func TenantPrefix(tenantID string) string {
	return "backups/tenant/" + tenantID + "/"
}

// LocalCopyPath is where a self-service artifact is kept for direct download.
func LocalCopyPath(dir, backupID string) string {
	return filepath.Join(dir, backupID+fileSuffix)
}

// Checksum returns the hex SHA-256 of everything read from r and the number
// of bytes read.
func Checksum(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Verify recomputes the checksum of r and compares it with want.
func Verify(r io.Reader, want string) (string, bool, error) {
	got, _, err := Checksum(r)
	if err != nil {
		return "", false, err
	}
	return got, got == want, nil
}

// countingWriter counts the bytes passing through to w.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
