// Package catalogtest provides an in-memory catalog for tests.
package catalogtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/platform"
)

// Memory is a catalog.Catalog held in maps. It enforces the same lifecycle
// and uniqueness rules as the Postgres catalog.
type Memory struct {
	mu            sync.Mutex
	backups       map[string]model.BackupRecord
	restores      map[string]model.RestoreRecord
	tokens        map[string]model.DownloadToken
	verifications []model.VerificationRecord
	seq           int64
	createErr     error
	statusErr     map[string]error
}

var _ catalog.Catalog = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		backups:  make(map[string]model.BackupRecord),
		restores: make(map[string]model.RestoreRecord),
		tokens:   make(map[string]model.DownloadToken),
	}
}

// FailCreates makes every CreateBackup call return err. Pass nil to reset.
func (m *Memory) FailCreates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// FailStatusUpdates makes UpdateBackup return err when it moves a backup to
// status. Pass nil to reset.
func (m *Memory) FailStatusUpdates(status string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statusErr == nil {
		m.statusErr = make(map[string]error)
	}
	m.statusErr[status] = err
}

// PutBackup stores b as is, bypassing validation. Used to seed fixtures.
func (m *Memory) PutBackup(b model.BackupRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.Locations == nil {
		b.Locations = []model.StorageLocation{}
	}
	m.backups[b.ID] = cloneBackup(b)
}

// Backups returns every stored backup in creation order.
func (m *Memory) Backups() []model.BackupRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.BackupRecord, 0, len(m.backups))
	for _, b := range m.backups {
		out = append(out, cloneBackup(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Tokens returns the number of stored download tokens.
func (m *Memory) Tokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

func cloneBackup(b model.BackupRecord) model.BackupRecord {
	b.Locations = append([]model.StorageLocation{}, b.Locations...)
	return b
}

func (m *Memory) CreateBackup(_ context.Context, b *model.BackupRecord) error {
	if err := catalogValidateBackup(b); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.backups[b.ID]; ok {
		return errs.BusinessRule("create backup", "backup %s already exists", b.ID)
	}
	if b.LimitDay != "" {
		for _, existing := range m.backups {
			if existing.TenantID == b.TenantID && existing.LimitDay == b.LimitDay {
				return errs.WithCode(
					errs.BusinessRule("create backup", "tenant %s already started a self-service backup on %s", b.TenantID, b.LimitDay),
					catalog.CodeDailyLimit)
			}
		}
	}
	if b.Locations == nil {
		b.Locations = []model.StorageLocation{}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.backups[b.ID] = cloneBackup(*b)
	return nil
}

// catalogValidateBackup mirrors the create-time checks of the Postgres catalog.
func catalogValidateBackup(b *model.BackupRecord) error {
	switch b.Scope {
	case model.ScopeTenant:
		if b.TenantID == "" {
			return errs.Validation("create backup", "tenant scope requires a tenant id")
		}
	case model.ScopePlatform:
		if b.TenantID != "" {
			return errs.Validation("create backup", "platform scope takes no tenant id")
		}
	default:
		return errs.Validation("create backup", "unknown scope %q", b.Scope)
	}
	if b.Status != model.StatusPending {
		return errs.BusinessRule("create backup", "new backups start pending, got %q", b.Status)
	}
	return nil
}

func (m *Memory) UpdateBackup(_ context.Context, id, status string, upd catalog.BackupUpdate) error {
	m.mu.Lock()
	injected := m.statusErr[status]
	m.mu.Unlock()
	if injected != nil {
		return injected
	}
	if !model.ValidStatus(status) {
		return errs.Validation("update backup", "unknown status %q", status)
	}
	if status == model.StatusCompleted {
		if upd.Checksum == nil || *upd.Checksum == "" {
			return errs.BusinessRule("update backup", "backup %s cannot complete without a checksum", id)
		}
		if len(upd.Locations) == 0 {
			return errs.BusinessRule("update backup", "backup %s cannot complete without a storage location", id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return errs.NotFound("update backup", "backup %s not found", id)
	}
	if !model.CanTransition(b.Status, status) {
		return errs.BusinessRule("update backup", "backup %s cannot move from %s to %s", id, b.Status, status)
	}
	b.Status = status
	if upd.StartedAt != nil {
		b.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		b.CompletedAt = upd.CompletedAt
	}
	if upd.DurationMs != nil {
		b.DurationMs = upd.DurationMs
	}
	if upd.RawSize != nil {
		b.RawSize = *upd.RawSize
	}
	if upd.CompressedSize != nil {
		b.CompressedSize = *upd.CompressedSize
	}
	if upd.Checksum != nil {
		b.Checksum = *upd.Checksum
	}
	if upd.ObjectKey != nil {
		b.ObjectKey = *upd.ObjectKey
	}
	if upd.Locations != nil {
		b.Locations = append([]model.StorageLocation{}, upd.Locations...)
	}
	if upd.ErrorMessage != nil {
		b.ErrorMessage = upd.ErrorMessage
	}
	m.backups[id] = b
	return nil
}

func (m *Memory) FindBackup(_ context.Context, id string) (*model.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return nil, errs.NotFound("find backup", "backup %s not found", id)
	}
	cp := cloneBackup(b)
	return &cp, nil
}

func (m *Memory) ListBackups(_ context.Context, f catalog.BackupFilter, limit int) ([]model.BackupRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.BackupRecord
	for _, b := range m.backups {
		if !matchBackup(b, f) {
			continue
		}
		out = append(out, cloneBackup(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := catalog.ClampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func matchBackup(b model.BackupRecord, f catalog.BackupFilter) bool {
	if f.Scope != "" && b.Scope != f.Scope {
		return false
	}
	if f.TenantID != "" && b.TenantID != f.TenantID {
		if !f.IncludePlatform || b.Scope != model.ScopePlatform {
			return false
		}
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Origin != "" && b.Origin != f.Origin {
		return false
	}
	if f.LimitDay != "" && b.LimitDay != f.LimitDay {
		return false
	}
	if f.Provider != "" {
		if _, ok := b.Location(f.Provider); !ok {
			return false
		}
	}
	if f.CreatedAfter != nil && b.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !b.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if !f.IncludePurged && b.PurgedAt != nil {
		return false
	}
	return true
}

func (m *Memory) MarkBackupPurged(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.backups[id]
	if !ok {
		return errs.NotFound("find backup", "backup %s not found", id)
	}
	if b.PurgedAt == nil {
		b.PurgedAt = &at
		m.backups[id] = b
	}
	return nil
}

func (m *Memory) DeleteBackup(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backups[id]; !ok {
		return errs.NotFound("delete backup", "backup %s not found", id)
	}
	delete(m.backups, id)
	for hash, t := range m.tokens {
		if t.BackupID == id {
			delete(m.tokens, hash)
		}
	}
	return nil
}

func (m *Memory) CreateRestore(_ context.Context, r *model.RestoreRecord) error {
	if r.TenantID == "" || r.BackupID == "" {
		return errs.Validation("create restore", "restore requires a tenant id and a backup id")
	}
	if r.Status != model.StatusPending {
		return errs.BusinessRule("create restore", "new restores start pending, got %q", r.Status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.CreatedAt.IsZero() {
		// Keep creation order stable for records created in the same instant.
		m.seq++
		r.CreatedAt = time.Now().UTC().Add(time.Duration(m.seq))
	}
	m.restores[r.ID] = *r
	return nil
}

func (m *Memory) UpdateRestore(_ context.Context, id, status string, upd catalog.RestoreUpdate) error {
	if !model.ValidStatus(status) {
		return errs.Validation("update restore", "unknown status %q", status)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restores[id]
	if !ok {
		return errs.NotFound("update restore", "restore %s not found", id)
	}
	if !model.CanTransition(r.Status, status) {
		return errs.BusinessRule("update restore", "restore %s cannot move from %s to %s", id, r.Status, status)
	}
	r.Status = status
	if upd.StartedAt != nil {
		r.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		r.CompletedAt = upd.CompletedAt
	}
	if upd.Snapshot != nil {
		r.Snapshot = upd.Snapshot
	}
	if upd.RestorePoint != nil {
		r.RestorePoint = upd.RestorePoint
	}
	if upd.ErrorMessage != nil {
		r.ErrorMessage = upd.ErrorMessage
	}
	m.restores[id] = r
	return nil
}

func (m *Memory) FindRestore(_ context.Context, id string) (*model.RestoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.restores[id]
	if !ok {
		return nil, errs.NotFound("find restore", "restore %s not found", id)
	}
	return &r, nil
}

func (m *Memory) ListRestores(_ context.Context, f catalog.RestoreFilter, limit int) ([]model.RestoreRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.RestoreRecord
	for _, r := range m.restores {
		if f.TenantID != "" && r.TenantID != f.TenantID {
			continue
		}
		if f.BatchID != "" && r.BatchID != f.BatchID {
			continue
		}
		if f.BackupID != "" && r.BackupID != f.BackupID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if n := catalog.ClampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) CreateDownloadToken(_ context.Context, t *model.DownloadToken) error {
	if t.TokenHash == "" {
		t.TokenHash = platform.HashSecret(t.Token)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.backups[t.BackupID]; !ok {
		return errs.NotFound("create download token", "backup %s not found", t.BackupID)
	}
	stored := *t
	stored.Token = ""
	m.tokens[t.TokenHash] = stored
	return nil
}

func (m *Memory) FindDownloadToken(_ context.Context, token string) (*model.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[platform.HashSecret(token)]
	if !ok {
		return nil, errs.NotFound("find download token", "download token not found")
	}
	return &t, nil
}

func (m *Memory) MarkTokenDownloaded(_ context.Context, tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[tokenHash]
	if ok && t.DownloadedAt == nil {
		t.DownloadedAt = &at
		m.tokens[tokenHash] = t
	}
	return nil
}

func (m *Memory) ListExpiredTokens(_ context.Context, before time.Time) ([]model.DownloadToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DownloadToken
	for _, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (m *Memory) DeleteDownloadToken(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tokenHash)
	return nil
}

func (m *Memory) RecordVerification(_ context.Context, v *model.VerificationRecord) error {
	if v.ID == "" {
		v.ID = platform.NewID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifications = append(m.verifications, *v)
	return nil
}

func (m *Memory) RecentVerifications(_ context.Context, limit int) ([]model.VerificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := catalog.ClampLimit(limit)
	out := make([]model.VerificationRecord, 0, n)
	for i := len(m.verifications) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.verifications[i])
	}
	return out, nil
}
