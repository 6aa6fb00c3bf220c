package jobs

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
)

// TaskQueue is the Temporal task queue the worker polls.
const TaskQueue = "tenantvault-tasks"

// WorkflowNames maps job types to the workflow that runs them.
var WorkflowNames = map[Type]string{
	TypeBackup:            "BackupWorkflow",
	TypeSelfServiceBackup: "SelfServiceBackupWorkflow",
	TypeRestore:           "RestoreWorkflow",
	TypeVerify:            "VerifyBackupsWorkflow",
	TypeSelfServiceClean:  "CleanupSelfServiceWorkflow",
	TypeRetention:         "CleanupOldBackupsWorkflow",
}

// Temporal submits jobs as Temporal workflows. The job ID is the workflow ID.
type Temporal struct {
	tc temporalclient.Client
}

var _ Queue = (*Temporal)(nil)

func NewTemporal(tc temporalclient.Client) *Temporal {
	return &Temporal{tc: tc}
}

func (t *Temporal) Submit(ctx context.Context, spec TaskSpec) (*JobHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	id := spec.id()
	_, err := t.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        id,
		TaskQueue: TaskQueue,
	}, WorkflowNames[spec.Type], spec.payload())
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return nil, errs.BusinessRule("submit job", "job %s already exists", id)
		}
		return nil, fmt.Errorf("start %s workflow: %w", WorkflowNames[spec.Type], err)
	}
	return &JobHandle{ID: id, Type: spec.Type, queue: t}, nil
}

func (t *Temporal) Status(ctx context.Context, id string) (*JobStatus, error) {
	typ, _, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	desc, err := t.tc.DescribeWorkflowExecution(ctx, id, "")
	if err != nil {
		var nf *serviceerror.NotFound
		if errors.As(err, &nf) {
			return nil, errs.NotFound("job status", "job %s not found", id)
		}
		return nil, fmt.Errorf("describe workflow %s: %w", id, err)
	}

	info := desc.GetWorkflowExecutionInfo()
	st := &JobStatus{ID: id, Type: typ}
	if ts := info.GetStartTime(); ts != nil {
		started := ts.AsTime()
		st.SubmittedAt = &started
	}
	if ts := info.GetCloseTime(); ts != nil {
		closed := ts.AsTime()
		st.FinishedAt = &closed
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		// A workflow that has scheduled nothing yet has only its start events.
		if len(desc.GetPendingActivities()) == 0 && info.GetHistoryLength() <= 2 {
			st.State = StatePending
		} else {
			st.State = StateInProgress
		}
		return st, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		st.State = StateCancelled
		return st, nil
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		if err := t.result(ctx, id, st); err != nil {
			return nil, err
		}
		st.State = StateSuccess
		if st.Backup != nil && st.Backup.Status == model.StatusCancelled {
			st.State = StateCancelled
		}
		return st, nil
	default:
		st.State = StateFailure
		st.Error, st.ErrorKind = t.failure(ctx, id)
		return st, nil
	}
}

func (t *Temporal) result(ctx context.Context, id string, st *JobStatus) error {
	var target any
	switch st.Type {
	case TypeBackup, TypeSelfServiceBackup:
		st.Backup = &model.BackupResult{}
		target = st.Backup
	case TypeRestore:
		st.Restore = &model.RestoreResult{}
		target = st.Restore
	case TypeVerify:
		st.Verification = &model.VerificationResult{}
		target = st.Verification
	case TypeSelfServiceClean, TypeRetention:
		st.Cleanup = &model.CleanupResult{}
		target = st.Cleanup
	}
	if err := t.tc.GetWorkflow(ctx, id, "").Get(ctx, target); err != nil {
		return fmt.Errorf("get workflow result %s: %w", id, err)
	}
	return nil
}

// failure extracts the message and error kind of a failed workflow. Kinds
// travel as the application error type.
func (t *Temporal) failure(ctx context.Context, id string) (string, string) {
	err := t.tc.GetWorkflow(ctx, id, "").Get(ctx, nil)
	if err == nil {
		return "workflow did not complete", errs.KindUnknown.String()
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		kind := errs.KindFromName(appErr.Type())
		return appErr.Message(), kind.String()
	}
	var timeoutErr *temporal.TimeoutError
	if errors.As(err, &timeoutErr) {
		return "workflow timed out", errs.KindUnknown.String()
	}
	return err.Error(), errs.KindUnknown.String()
}

func (t *Temporal) Cancel(ctx context.Context, id string) error {
	st, err := t.Status(ctx, id)
	if err != nil {
		return err
	}
	switch st.State {
	case StateCancelled:
		return nil
	case StatePending:
	default:
		return errs.BusinessRule("cancel job", "job %s is %s", id, st.State)
	}
	if err := t.tc.CancelWorkflow(ctx, id, ""); err != nil {
		return fmt.Errorf("cancel workflow %s: %w", id, err)
	}
	return nil
}
