// Package selfservice lets tenants take one backup per calendar day and
// download it with a time-boxed token.
package selfservice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/platform"
)

const dayLayout = "2006-01-02"

// Backups starts and runs backups.
type Backups interface {
	Start(ctx context.Context, req backup.Request) (*model.BackupRecord, error)
	Execute(ctx context.Context, id string, opts backup.RunOptions) (*model.BackupResult, error)
}

// Storage reads and removes stored artifacts.
type Storage interface {
	Open(ctx context.Context, key, provider string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) (bool, error)
}

// Tenants reports whether a tenant exists.
type Tenants interface {
	TenantExists(ctx context.Context, tenantID string) (bool, error)
}

type Config struct {
	// LocalDir holds the local artifact copies served to downloads.
	LocalDir string
	TokenTTL time.Duration
	// Location defines calendar-day boundaries for the daily limit.
	Location *time.Location
}

type Service struct {
	catalog catalog.Catalog
	backups Backups
	storage Storage
	tenants Tenants
	cfg     Config
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(cat catalog.Catalog, backups Backups, store Storage, tenants Tenants, cfg Config, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{
		catalog: cat,
		backups: backups,
		storage: store,
		tenants: tenants,
		cfg:     cfg,
		logger:  logger.With().Str("component", "self-service").Logger(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// today returns the current calendar day in the configured time zone.
func (s *Service) today() string {
	return s.now().In(s.cfg.Location).Format(dayLayout)
}

// CheckDailyLimit reports whether the tenant may start a self-service backup
// today. Any backup started today counts, whatever its outcome.
func (s *Service) CheckDailyLimit(ctx context.Context, tenantID string) (bool, error) {
	if tenantID == "" {
		return false, errs.Validation("check daily limit", "tenant id is required")
	}
	existing, err := s.catalog.ListBackups(ctx, catalog.BackupFilter{
		TenantID:      tenantID,
		Origin:        model.OriginSelfService,
		LimitDay:      s.today(),
		IncludePurged: true,
	}, 1)
	if err != nil {
		return false, err
	}
	return len(existing) == 0, nil
}

// Begin enforces the daily limit and records a pending tenant backup.
func (s *Service) Begin(ctx context.Context, tenantID, userID string) (*model.BackupRecord, error) {
	if userID == "" {
		return nil, errs.Validation("self-service backup", "user id is required")
	}
	exists, err := s.tenants.TenantExists(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("check tenant %s: %w", tenantID, err)
	}
	if !exists {
		return nil, errs.NotFound("self-service backup", "tenant %s not found", tenantID)
	}
	allowed, err := s.CheckDailyLimit(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	day := s.today()
	if !allowed {
		return nil, errs.WithCode(
			errs.BusinessRule("self-service backup", "tenant %s already started a backup on %s", tenantID, day),
			catalog.CodeDailyLimit)
	}
	return s.backups.Start(ctx, backup.Request{
		Scope:       model.ScopeTenant,
		TenantID:    tenantID,
		Origin:      model.OriginSelfService,
		InitiatedBy: userID,
		LimitDay:    day,
	})
}

// Complete runs a begun backup, keeping a local copy, and mints its
// download token. A backup cancelled before it started gets no token.
func (s *Service) Complete(ctx context.Context, backupID string) (*model.BackupResult, error) {
	res, err := s.backups.Execute(ctx, backupID, backup.RunOptions{LocalCopyDir: s.cfg.LocalDir})
	if err != nil || res.Status != model.StatusCompleted {
		return res, err
	}
	tok, err := s.IssueToken(ctx, backupID)
	if err != nil {
		return res, err
	}
	res.DownloadToken = tok.Token
	res.TokenExpiresAt = &tok.ExpiresAt
	return res, nil
}

// Create is Begin followed by Complete.
func (s *Service) Create(ctx context.Context, tenantID, userID string) (*model.BackupResult, error) {
	b, err := s.Begin(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return s.Complete(ctx, b.ID)
}

// IssueToken mints a download token for a completed self-service backup.
// The plain token is only present on the returned value.
func (s *Service) IssueToken(ctx context.Context, backupID string) (*model.DownloadToken, error) {
	b, err := s.catalog.FindBackup(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if b.Origin != model.OriginSelfService {
		return nil, errs.BusinessRule("issue download token", "backup %s is not a self-service backup", backupID)
	}
	if b.Status != model.StatusCompleted {
		return nil, errs.BusinessRule("issue download token", "backup %s is %s", backupID, b.Status)
	}

	now := s.now()
	tok := &model.DownloadToken{
		Token:     platform.NewToken(),
		BackupID:  b.ID,
		TenantID:  b.TenantID,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
		CreatedAt: now,
	}
	tok.TokenHash = platform.HashSecret(tok.Token)
	if err := s.catalog.CreateDownloadToken(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// ReissueToken mints a fresh download token for one of the tenant's
// completed self-service backups. Earlier tokens stay valid until they
// expire.
func (s *Service) ReissueToken(ctx context.Context, tenantID, backupID string) (*model.DownloadToken, error) {
	b, err := s.catalog.FindBackup(ctx, backupID)
	if err != nil {
		return nil, err
	}
	if b.TenantID != tenantID {
		return nil, errs.NotFound("reissue download token", "backup %s not found for tenant %s", backupID, tenantID)
	}
	return s.IssueToken(ctx, backupID)
}

// Download is an artifact opened for a token holder.
type Download struct {
	Body     io.ReadCloser
	Filename string
	Backup   *model.BackupRecord
}

// DownloadByToken opens the artifact a token grants. Unknown and expired
// tokens are both NotFound. The local copy is served when present, otherwise
// the stored artifact.
func (s *Service) DownloadByToken(ctx context.Context, token string) (*Download, error) {
	if token == "" {
		return nil, errs.NotFound("download", "download token not found")
	}
	tok, err := s.catalog.FindDownloadToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if tok.Expired(now) {
		return nil, errs.NotFound("download", "download token expired at %s", tok.ExpiresAt.Format(time.RFC3339))
	}
	b, err := s.catalog.FindBackup(ctx, tok.BackupID)
	if err != nil {
		return nil, err
	}
	if b.Status != model.StatusCompleted || b.PurgedAt != nil {
		return nil, errs.NotFound("download", "backup %s is no longer available", b.ID)
	}

	body, err := s.open(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := s.catalog.MarkTokenDownloaded(ctx, tok.TokenHash, now); err != nil {
		s.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("marking token downloaded failed")
	}
	return &Download{Body: body, Filename: path.Base(b.ObjectKey), Backup: b}, nil
}

func (s *Service) open(ctx context.Context, b *model.BackupRecord) (io.ReadCloser, error) {
	if s.cfg.LocalDir != "" {
		f, err := os.Open(artifact.LocalCopyPath(s.cfg.LocalDir, b.ID))
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("backup_id", b.ID).Msg("local copy unreadable, using stored artifact")
		}
	}
	rc, _, err := s.storage.Open(ctx, b.ObjectKey, "")
	return rc, err
}

// CleanupExpired removes the local copies and tokens of backups whose token
// expired more than olderThanDays days ago. With deleteRecords the stored
// artifact and the catalog row go as well.
func (s *Service) CleanupExpired(ctx context.Context, olderThanDays int, deleteRecords bool) (*model.CleanupResult, error) {
	if olderThanDays < 0 {
		return nil, errs.Validation("cleanup", "older_than_days must not be negative")
	}
	cutoff := s.now().AddDate(0, 0, -olderThanDays)
	tokens, err := s.catalog.ListExpiredTokens(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired tokens: %w", err)
	}

	result := &model.CleanupResult{}
	seen := make(map[string]bool)
	for _, tok := range tokens {
		if err := s.catalog.DeleteDownloadToken(ctx, tok.TokenHash); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("token for %s: %v", tok.BackupID, err))
			continue
		}
		result.TokensRemoved++
		if seen[tok.BackupID] {
			continue
		}
		seen[tok.BackupID] = true
		s.cleanupBackup(ctx, tok.BackupID, deleteRecords, result)
	}

	s.logger.Info().Int("tokens", result.TokensRemoved).Int("files", result.FilesRemoved).
		Int("records", result.RecordsDeleted).Int64("bytes_freed", result.BytesFreed).
		Int("errors", len(result.Errors)).Msg("self-service cleanup finished")
	return result, nil
}

func (s *Service) cleanupBackup(ctx context.Context, backupID string, deleteRecords bool, result *model.CleanupResult) {
	if s.cfg.LocalDir != "" {
		p := artifact.LocalCopyPath(s.cfg.LocalDir, backupID)
		if info, err := os.Stat(p); err == nil {
			if err := os.Remove(p); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("local copy %s: %v", backupID, err))
			} else {
				result.FilesRemoved++
				result.BytesFreed += info.Size()
			}
		}
	}
	if !deleteRecords {
		return
	}

	b, err := s.catalog.FindBackup(ctx, backupID)
	if err != nil {
		if !errs.Is(err, errs.KindNotFound) {
			result.Errors = append(result.Errors, fmt.Sprintf("backup %s: %v", backupID, err))
		}
		return
	}
	if b.ObjectKey != "" && b.PurgedAt == nil {
		if _, err := s.storage.Delete(ctx, b.ObjectKey); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("artifact %s: %v", backupID, err))
			return
		}
		result.ArtifactsPurged++
	}
	if err := s.catalog.DeleteBackup(ctx, backupID); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("record %s: %v", backupID, err))
		return
	}
	result.RecordsDeleted++
}
