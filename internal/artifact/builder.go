package artifact

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/tenantdata"
)

// BuildRequest names the scope of one artifact.
type BuildRequest struct {
	BackupID  string
	Scope     string
	TenantID  string
	CreatedAt time.Time
}

// Builder streams tenant data into artifacts in the staging directory.
type Builder struct {
	store      tenantdata.Store
	stagingDir string
	logger     zerolog.Logger
}

func NewBuilder(store tenantdata.Store, stagingDir string, logger zerolog.Logger) *Builder {
	return &Builder{
		store:      store,
		stagingDir: stagingDir,
		logger:     logger.With().Str("component", "artifact-builder").Logger(),
	}
}

// Build writes a new artifact for req. Every call produces a new file; a
// failed build leaves no file behind.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (art *Artifact, err error) {
	switch req.Scope {
	case model.ScopeTenant:
		if req.TenantID == "" {
			return nil, &BuildError{BackupID: req.BackupID, Err: errs.Validation("build", "tenant scope requires a tenant id")}
		}
		exists, err := b.store.TenantExists(ctx, req.TenantID)
		if err != nil {
			return nil, &BuildError{BackupID: req.BackupID, Err: err}
		}
		if !exists {
			return nil, &BuildError{BackupID: req.BackupID, Err: errs.NotFound("build", "tenant %s does not exist", req.TenantID)}
		}
	case model.ScopePlatform:
	default:
		return nil, &BuildError{BackupID: req.BackupID, Err: errs.Validation("build", "unknown scope %q", req.Scope)}
	}

	if err := os.MkdirAll(b.stagingDir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	f, err := os.CreateTemp(b.stagingDir, "backup-"+req.BackupID+"-*"+fileSuffix)
	if err != nil {
		return nil, fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	hash := sha256.New()
	compressed := &countingWriter{w: io.MultiWriter(f, hash)}
	gz := gzip.NewWriter(compressed)
	raw := &countingWriter{w: gz}
	buf := bufio.NewWriterSize(raw, 64<<10)
	enc := json.NewEncoder(buf)

	var rows int64
	tenantFilter := ""
	if req.Scope == model.ScopeTenant {
		tenantFilter = req.TenantID
	}
	dumpErr := b.store.Dump(ctx, tenantFilter, func(r tenantdata.Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows++
		return enc.Encode(r)
	})
	if dumpErr != nil {
		return nil, &BuildError{BackupID: req.BackupID, Err: dumpErr}
	}

	if err := buf.Flush(); err != nil {
		return nil, fmt.Errorf("flush artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip stream: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close staging file: %w", err)
	}

	art = &Artifact{
		Path:           f.Name(),
		Key:            Key(req.Scope, req.TenantID, req.BackupID, req.CreatedAt),
		RawSize:        raw.n,
		CompressedSize: compressed.n,
		Checksum:       hex.EncodeToString(hash.Sum(nil)),
		Rows:           rows,
	}
	b.logger.Info().
		Str("backup_id", req.BackupID).
		Str("scope", req.Scope).
		Int64("rows", rows).
		Int64("raw_size", art.RawSize).
		Int64("compressed_size", art.CompressedSize).
		Msg("artifact built")
	return art, nil
}
