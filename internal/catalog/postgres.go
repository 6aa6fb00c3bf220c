package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/platform"
)

const uniqueViolation = "23505"

// DB is the subset of pgxpool.Pool used by the catalog.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores the catalog in the core database.
type Postgres struct {
	db DB
}

var _ Catalog = (*Postgres)(nil)

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

const backupColumns = `id, scope, COALESCE(tenant_id, ''), origin, initiated_by, status, raw_size, compressed_size,
	COALESCE(checksum, ''), COALESCE(object_key, ''), locations, started_at, completed_at, duration_ms,
	error_message, created_at, purged_at`

func scanBackup(s scanner) (*model.BackupRecord, error) {
	var b model.BackupRecord
	err := s.Scan(&b.ID, &b.Scope, &b.TenantID, &b.Origin, &b.InitiatedBy, &b.Status, &b.RawSize,
		&b.CompressedSize, &b.Checksum, &b.ObjectKey, &b.Locations, &b.StartedAt, &b.CompletedAt,
		&b.DurationMs, &b.ErrorMessage, &b.CreatedAt, &b.PurgedAt)
	if err != nil {
		return nil, err
	}
	if b.Locations == nil {
		b.Locations = []model.StorageLocation{}
	}
	return &b, nil
}

func (c *Postgres) CreateBackup(ctx context.Context, b *model.BackupRecord) error {
	if err := validateBackup(b); err != nil {
		return err
	}
	if b.Locations == nil {
		b.Locations = []model.StorageLocation{}
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO backup_records (id, scope, tenant_id, origin, initiated_by, status, locations, self_service_day, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, NULLIF($8, '')::date, $9, $9)`,
		b.ID, b.Scope, b.TenantID, b.Origin, b.InitiatedBy, b.Status, b.Locations, b.LimitDay, b.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && b.LimitDay != "" {
			return errs.WithCode(
				errs.BusinessRule("create backup", "tenant %s already started a self-service backup on %s", b.TenantID, b.LimitDay),
				CodeDailyLimit)
		}
		return fmt.Errorf("insert backup: %w", err)
	}
	return nil
}

func (c *Postgres) UpdateBackup(ctx context.Context, id, status string, upd BackupUpdate) error {
	if err := validateBackupUpdate(id, status, upd); err != nil {
		return err
	}

	sets := []string{"status = $1", "updated_at = now()"}
	args := []any{status}
	argIdx := 2
	set := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, v)
		argIdx++
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}
	if upd.DurationMs != nil {
		set("duration_ms", *upd.DurationMs)
	}
	if upd.RawSize != nil {
		set("raw_size", *upd.RawSize)
	}
	if upd.CompressedSize != nil {
		set("compressed_size", *upd.CompressedSize)
	}
	if upd.Checksum != nil {
		set("checksum", *upd.Checksum)
	}
	if upd.ObjectKey != nil {
		set("object_key", *upd.ObjectKey)
	}
	if upd.Locations != nil {
		set("locations", upd.Locations)
	}
	if upd.ErrorMessage != nil {
		set("error_message", *upd.ErrorMessage)
	}

	query := fmt.Sprintf(`UPDATE backup_records SET %s WHERE id = $%d AND status = ANY($%d)`,
		strings.Join(sets, ", "), argIdx, argIdx+1)
	args = append(args, id, model.AllowedPredecessors(status))

	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update backup %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return c.rejectTransition(ctx, "backup_records", "backup", id, status)
	}
	return nil
}

// rejectTransition explains why a guarded UPDATE matched no row.
func (c *Postgres) rejectTransition(ctx context.Context, table, kind, id, to string) error {
	var current string
	err := c.db.QueryRow(ctx, fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, table), id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.NotFound("update "+kind, "%s %s not found", kind, id)
	}
	if err != nil {
		return fmt.Errorf("get %s %s status: %w", kind, id, err)
	}
	return transitionRejected(kind, id, current, to)
}

func (c *Postgres) FindBackup(ctx context.Context, id string) (*model.BackupRecord, error) {
	b, err := scanBackup(c.db.QueryRow(ctx, `SELECT `+backupColumns+` FROM backup_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("find backup", "backup %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get backup %s: %w", id, err)
	}
	return b, nil
}

func (c *Postgres) ListBackups(ctx context.Context, f BackupFilter, limit int) ([]model.BackupRecord, error) {
	query := `SELECT ` + backupColumns + ` FROM backup_records WHERE true`
	var args []any
	argIdx := 1
	where := func(cond string, v any) {
		query += fmt.Sprintf(" AND "+cond, argIdx)
		args = append(args, v)
		argIdx++
	}

	if f.Scope != "" {
		where("scope = $%d", f.Scope)
	}
	if f.TenantID != "" {
		if f.IncludePlatform {
			where("(tenant_id = $%d OR scope = 'platform')", f.TenantID)
		} else {
			where("tenant_id = $%d", f.TenantID)
		}
	}
	if f.Status != "" {
		where("status = $%d", f.Status)
	}
	if f.Origin != "" {
		where("origin = $%d", f.Origin)
	}
	if f.LimitDay != "" {
		where("self_service_day = $%d::date", f.LimitDay)
	}
	if f.Provider != "" {
		filter, _ := json.Marshal([]map[string]string{{"provider": f.Provider}})
		where("locations @> $%d::jsonb", string(filter))
	}
	if f.CreatedAfter != nil {
		where("created_at >= $%d", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		where("created_at < $%d", *f.CreatedBefore)
	}
	if !f.IncludePurged {
		query += " AND purged_at IS NULL"
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var backups []model.BackupRecord
	for rows.Next() {
		b, err := scanBackup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		backups = append(backups, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return backups, nil
}

func (c *Postgres) MarkBackupPurged(ctx context.Context, id string, at time.Time) error {
	tag, err := c.db.Exec(ctx,
		`UPDATE backup_records SET purged_at = $2, updated_at = now() WHERE id = $1 AND purged_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark backup %s purged: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := c.FindBackup(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Postgres) DeleteBackup(ctx context.Context, id string) error {
	tag, err := c.db.Exec(ctx, `DELETE FROM backup_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete backup %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.NotFound("delete backup", "backup %s not found", id)
	}
	return nil
}

const restoreColumns = `id, batch_id, backup_id, tenant_id, initiated_by, status, skip_validation, snapshot,
	restore_point, started_at, completed_at, error_message, created_at`

func scanRestore(s scanner) (*model.RestoreRecord, error) {
	var r model.RestoreRecord
	err := s.Scan(&r.ID, &r.BatchID, &r.BackupID, &r.TenantID, &r.InitiatedBy, &r.Status, &r.SkipValidation,
		&r.Snapshot, &r.RestorePoint, &r.StartedAt, &r.CompletedAt, &r.ErrorMessage, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Postgres) CreateRestore(ctx context.Context, r *model.RestoreRecord) error {
	if err := validateRestore(r); err != nil {
		return err
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO restore_records (id, batch_id, backup_id, tenant_id, initiated_by, status, skip_validation, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		r.ID, r.BatchID, r.BackupID, r.TenantID, r.InitiatedBy, r.Status, r.SkipValidation, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert restore: %w", err)
	}
	return nil
}

func (c *Postgres) UpdateRestore(ctx context.Context, id, status string, upd RestoreUpdate) error {
	if !model.ValidStatus(status) {
		return errs.Validation("update restore", "unknown status %q", status)
	}

	sets := []string{"status = $1", "updated_at = now()"}
	args := []any{status}
	argIdx := 2
	set := func(col string, v any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, argIdx))
		args = append(args, v)
		argIdx++
	}
	if upd.StartedAt != nil {
		set("started_at", *upd.StartedAt)
	}
	if upd.CompletedAt != nil {
		set("completed_at", *upd.CompletedAt)
	}
	if upd.Snapshot != nil {
		set("snapshot", upd.Snapshot)
	}
	if upd.RestorePoint != nil {
		set("restore_point", *upd.RestorePoint)
	}
	if upd.ErrorMessage != nil {
		set("error_message", *upd.ErrorMessage)
	}

	query := fmt.Sprintf(`UPDATE restore_records SET %s WHERE id = $%d AND status = ANY($%d)`,
		strings.Join(sets, ", "), argIdx, argIdx+1)
	args = append(args, id, model.AllowedPredecessors(status))

	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update restore %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return c.rejectTransition(ctx, "restore_records", "restore", id, status)
	}
	return nil
}

func (c *Postgres) FindRestore(ctx context.Context, id string) (*model.RestoreRecord, error) {
	r, err := scanRestore(c.db.QueryRow(ctx, `SELECT `+restoreColumns+` FROM restore_records WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("find restore", "restore %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get restore %s: %w", id, err)
	}
	return r, nil
}

func (c *Postgres) ListRestores(ctx context.Context, f RestoreFilter, limit int) ([]model.RestoreRecord, error) {
	query := `SELECT ` + restoreColumns + ` FROM restore_records WHERE true`
	var args []any
	argIdx := 1
	where := func(col string, v string) {
		if v == "" {
			return
		}
		query += fmt.Sprintf(` AND %s = $%d`, col, argIdx)
		args = append(args, v)
		argIdx++
	}
	where("tenant_id", f.TenantID)
	where("batch_id", f.BatchID)
	where("backup_id", f.BackupID)
	where("status", f.Status)

	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list restores: %w", err)
	}
	defer rows.Close()

	var restores []model.RestoreRecord
	for rows.Next() {
		r, err := scanRestore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan restore: %w", err)
		}
		restores = append(restores, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate restores: %w", err)
	}
	return restores, nil
}

func (c *Postgres) CreateDownloadToken(ctx context.Context, t *model.DownloadToken) error {
	if t.TokenHash == "" {
		t.TokenHash = platform.HashSecret(t.Token)
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO download_tokens (token_hash, backup_id, tenant_id, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.TokenHash, t.BackupID, t.TenantID, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert download token: %w", err)
	}
	return nil
}

const tokenColumns = `token_hash, backup_id, tenant_id, expires_at, downloaded_at, created_at`

func scanToken(s scanner) (*model.DownloadToken, error) {
	var t model.DownloadToken
	if err := s.Scan(&t.TokenHash, &t.BackupID, &t.TenantID, &t.ExpiresAt, &t.DownloadedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// FindDownloadToken looks a token up by its hash. Expiry is the caller's
// concern.
func (c *Postgres) FindDownloadToken(ctx context.Context, token string) (*model.DownloadToken, error) {
	t, err := scanToken(c.db.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens WHERE token_hash = $1`, platform.HashSecret(token)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.NotFound("find download token", "download token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get download token: %w", err)
	}
	return t, nil
}

func (c *Postgres) MarkTokenDownloaded(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := c.db.Exec(ctx,
		`UPDATE download_tokens SET downloaded_at = COALESCE(downloaded_at, $2) WHERE token_hash = $1`, tokenHash, at)
	if err != nil {
		return fmt.Errorf("mark token downloaded: %w", err)
	}
	return nil
}

func (c *Postgres) ListExpiredTokens(ctx context.Context, before time.Time) ([]model.DownloadToken, error) {
	rows, err := c.db.Query(ctx,
		`SELECT `+tokenColumns+` FROM download_tokens WHERE expires_at < $1 ORDER BY expires_at`, before)
	if err != nil {
		return nil, fmt.Errorf("list expired tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.DownloadToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download token: %w", err)
		}
		tokens = append(tokens, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download tokens: %w", err)
	}
	return tokens, nil
}

func (c *Postgres) DeleteDownloadToken(ctx context.Context, tokenHash string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM download_tokens WHERE token_hash = $1`, tokenHash); err != nil {
		return fmt.Errorf("delete download token: %w", err)
	}
	return nil
}

func (c *Postgres) RecordVerification(ctx context.Context, v *model.VerificationRecord) error {
	if v.ID == "" {
		v.ID = platform.NewID()
	}
	_, err := c.db.Exec(ctx,
		`INSERT INTO backup_verifications (id, backup_id, provider, ok, error, verified_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)`,
		v.ID, v.BackupID, v.Provider, v.OK, v.Error, v.VerifiedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

func (c *Postgres) RecentVerifications(ctx context.Context, limit int) ([]model.VerificationRecord, error) {
	rows, err := c.db.Query(ctx,
		`SELECT id, backup_id, provider, ok, COALESCE(error, ''), verified_at
		 FROM backup_verifications ORDER BY verified_at DESC, id DESC LIMIT $1`, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []model.VerificationRecord
	for rows.Next() {
		var v model.VerificationRecord
		if err := rows.Scan(&v.ID, &v.BackupID, &v.Provider, &v.OK, &v.Error, &v.VerifiedAt); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verifications: %w", err)
	}
	return out, nil
}
