// Package jobs submits long-running backup, restore, verification and cleanup
// work to a task queue and reports its status. Callers hold a JobHandle and
// poll it; there is no push notification.
package jobs

import (
	"context"
	"strings"
	"time"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/platform"
	"github.com/edvin/tenantvault/internal/restore"
)

// Type names a kind of job. It prefixes the job ID.
type Type string

const (
	TypeBackup            Type = "backup"
	TypeSelfServiceBackup Type = "self-service-backup"
	TypeRestore           Type = "restore"
	TypeVerify            Type = "verify"
	TypeSelfServiceClean  Type = "self-service-cleanup"
	TypeRetention         Type = "retention-cleanup"
)

// Types lists every job type, longest prefix first so ParseID can match
// types that share a prefix.
var Types = []Type{TypeSelfServiceBackup, TypeSelfServiceClean, TypeRetention, TypeBackup, TypeRestore, TypeVerify}

// State is the externally visible state of a job.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSuccess    State = "success"
	StateFailure    State = "failure"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StateCancelled
}

// BackupParams runs an already recorded backup.
type BackupParams struct {
	BackupID string `json:"backup_id"`
}

// RestoreParams restores explicit pairs or, when All is set, every active
// tenant.
type RestoreParams struct {
	BatchID        string         `json:"batch_id"`
	Pairs          []restore.Pair `json:"pairs,omitempty"`
	All            bool           `json:"all,omitempty"`
	AsOf           *time.Time     `json:"as_of,omitempty"`
	SkipValidation bool           `json:"skip_validation"`
	InitiatedBy    string         `json:"initiated_by"`
}

// Options converts the params into restore options.
func (p RestoreParams) Options() restore.Options {
	return restore.Options{SkipValidation: p.SkipValidation, InitiatedBy: p.InitiatedBy, BatchID: p.BatchID}
}

type VerifyParams struct {
	Limit int `json:"limit"`
}

type CleanupParams struct {
	OlderThanDays int  `json:"older_than_days"`
	DeleteRecords bool `json:"delete_records"`
}

type RetentionParams struct {
	RetentionDays int `json:"retention_days"`
}

// TaskSpec describes a job to submit. Exactly the payload matching Type is
// set. Key makes the job ID deterministic (the backup ID or restore batch
// ID); a random key is used when empty.
type TaskSpec struct {
	Type      Type
	Key       string
	Backup    *BackupParams
	Restore   *RestoreParams
	Verify    *VerifyParams
	Cleanup   *CleanupParams
	Retention *RetentionParams
}

// Validate checks that the payload matches the type.
func (s *TaskSpec) Validate() error {
	ok := false
	switch s.Type {
	case TypeBackup, TypeSelfServiceBackup:
		ok = s.Backup != nil && s.Backup.BackupID != ""
	case TypeRestore:
		ok = s.Restore != nil && (s.Restore.All || len(s.Restore.Pairs) > 0)
	case TypeVerify:
		ok = s.Verify != nil
	case TypeSelfServiceClean:
		ok = s.Cleanup != nil
	case TypeRetention:
		ok = s.Retention != nil
	default:
		return errs.Validation("submit job", "unknown job type %q", s.Type)
	}
	if !ok {
		return errs.Validation("submit job", "missing parameters for %s job", s.Type)
	}
	return nil
}

// payload returns the argument handed to the job's workflow.
func (s *TaskSpec) payload() any {
	switch s.Type {
	case TypeBackup, TypeSelfServiceBackup:
		return *s.Backup
	case TypeRestore:
		return *s.Restore
	case TypeVerify:
		return *s.Verify
	case TypeSelfServiceClean:
		return *s.Cleanup
	case TypeRetention:
		return *s.Retention
	}
	return nil
}

// JobID builds the ID of a job of type t with key.
func JobID(t Type, key string) string {
	return string(t) + "-" + key
}

// ParseID splits a job ID into its type and key.
func ParseID(id string) (Type, string, error) {
	for _, t := range Types {
		prefix := string(t) + "-"
		if strings.HasPrefix(id, prefix) && len(id) > len(prefix) {
			return t, id[len(prefix):], nil
		}
	}
	return "", "", errs.Validation("parse job id", "malformed job id %q", id)
}

func (s *TaskSpec) id() string {
	key := s.Key
	if key == "" {
		key = platform.NewID()
	}
	return JobID(s.Type, key)
}

// JobStatus is a point-in-time view of a job. Only the result matching the
// job type is set, and only once the job succeeded.
type JobStatus struct {
	ID           string                    `json:"id"`
	Type         Type                      `json:"type"`
	State        State                     `json:"state"`
	Backup       *model.BackupResult       `json:"backup,omitempty"`
	Restore      *model.RestoreResult      `json:"restore,omitempty"`
	Verification *model.VerificationResult `json:"verification,omitempty"`
	Cleanup      *model.CleanupResult      `json:"cleanup,omitempty"`
	Error        string                    `json:"error,omitempty"`
	ErrorKind    string                    `json:"error_kind,omitempty"`
	SubmittedAt  *time.Time                `json:"submitted_at,omitempty"`
	FinishedAt   *time.Time                `json:"finished_at,omitempty"`
}

// Queue is a task queue backend.
type Queue interface {
	Submit(ctx context.Context, spec TaskSpec) (*JobHandle, error)
	Status(ctx context.Context, id string) (*JobStatus, error)
	// Cancel stops a job that has not started. Started jobs are not
	// interrupted; the call fails with a BusinessRule error.
	Cancel(ctx context.Context, id string) error
}

// JobHandle refers to a submitted job.
type JobHandle struct {
	ID    string `json:"job_id"`
	Type  Type   `json:"type"`
	queue Queue
}

// NewJobHandle returns a handle for an existing job ID on q.
func NewJobHandle(q Queue, id string) (*JobHandle, error) {
	t, _, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return &JobHandle{ID: id, Type: t, queue: q}, nil
}

// Poll returns the job's current status.
func (h *JobHandle) Poll(ctx context.Context) (*JobStatus, error) {
	return h.queue.Status(ctx, h.ID)
}

// Wait polls every interval until the job is terminal or ctx is done.
func (h *JobHandle) Wait(ctx context.Context, interval time.Duration) (*JobStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := h.Poll(ctx)
		if err != nil {
			return nil, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Runner executes jobs in-process. The local backend calls it directly;
// the Temporal backend reaches the same services through activities.
type Runner interface {
	RunBackup(ctx context.Context, p BackupParams) (*model.BackupResult, error)
	RunSelfServiceBackup(ctx context.Context, p BackupParams) (*model.BackupResult, error)
	RunRestore(ctx context.Context, p RestoreParams) (*model.RestoreResult, error)
	RunVerify(ctx context.Context, p VerifyParams) (*model.VerificationResult, error)
	RunSelfServiceCleanup(ctx context.Context, p CleanupParams) (*model.CleanupResult, error)
	RunRetention(ctx context.Context, p RetentionParams) (*model.CleanupResult, error)
}

// run dispatches spec to r and stores the typed result on st.
func run(ctx context.Context, r Runner, spec TaskSpec, st *JobStatus) error {
	var err error
	switch spec.Type {
	case TypeBackup:
		st.Backup, err = r.RunBackup(ctx, *spec.Backup)
	case TypeSelfServiceBackup:
		st.Backup, err = r.RunSelfServiceBackup(ctx, *spec.Backup)
	case TypeRestore:
		st.Restore, err = r.RunRestore(ctx, *spec.Restore)
	case TypeVerify:
		st.Verification, err = r.RunVerify(ctx, *spec.Verify)
	case TypeSelfServiceClean:
		st.Cleanup, err = r.RunSelfServiceCleanup(ctx, *spec.Cleanup)
	case TypeRetention:
		st.Cleanup, err = r.RunRetention(ctx, *spec.Retention)
	}
	return err
}
