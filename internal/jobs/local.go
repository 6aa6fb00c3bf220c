package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/errs"
	"github.com/edvin/tenantvault/internal/model"
)

const localQueueSize = 256

type localJob struct {
	spec   TaskSpec
	status JobStatus
}

// Local runs jobs on in-process worker goroutines. Job state lives in memory
// and is lost on restart.
type Local struct {
	runner  Runner
	logger  zerolog.Logger
	queue   chan string
	workers int

	mu   sync.Mutex
	jobs map[string]*localJob
	now  func() time.Time
}

var _ Queue = (*Local)(nil)

// NewLocal creates a local queue. Call Start to launch the workers.
func NewLocal(runner Runner, workers int, logger zerolog.Logger) *Local {
	if workers <= 0 {
		workers = 2
	}
	return &Local{
		runner:  runner,
		logger:  logger.With().Str("component", "local-jobs").Logger(),
		queue:   make(chan string, localQueueSize),
		workers: workers,
		jobs:    make(map[string]*localJob),
		now:     time.Now,
	}
}

// Start launches the workers. They exit when ctx is done.
func (l *Local) Start(ctx context.Context) {
	for i := 0; i < l.workers; i++ {
		go l.work(ctx)
	}
}

func (l *Local) Submit(ctx context.Context, spec TaskSpec) (*JobHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	id := spec.id()
	now := l.now()

	l.mu.Lock()
	if _, ok := l.jobs[id]; ok {
		l.mu.Unlock()
		return nil, errs.BusinessRule("submit job", "job %s already exists", id)
	}
	l.jobs[id] = &localJob{spec: spec, status: JobStatus{ID: id, Type: spec.Type, State: StatePending, SubmittedAt: &now}}
	l.mu.Unlock()

	select {
	case l.queue <- id:
	default:
		l.mu.Lock()
		delete(l.jobs, id)
		l.mu.Unlock()
		return nil, errs.BusinessRule("submit job", "job queue is full")
	}

	l.logger.Debug().Str("job_id", id).Msg("job submitted")
	return &JobHandle{ID: id, Type: spec.Type, queue: l}, nil
}

func (l *Local) Status(_ context.Context, id string) (*JobStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	if !ok {
		return nil, errs.NotFound("job status", "job %s not found", id)
	}
	st := j.status
	return &st, nil
}

func (l *Local) Cancel(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	if !ok {
		return errs.NotFound("cancel job", "job %s not found", id)
	}
	switch j.status.State {
	case StatePending:
		now := l.now()
		j.status.State = StateCancelled
		j.status.FinishedAt = &now
		return nil
	case StateCancelled:
		return nil
	default:
		return errs.BusinessRule("cancel job", "job %s is %s", id, j.status.State)
	}
}

func (l *Local) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-l.queue:
			l.execute(ctx, id)
		}
	}
}

func (l *Local) execute(ctx context.Context, id string) {
	l.mu.Lock()
	j, ok := l.jobs[id]
	if !ok || j.status.State != StatePending {
		l.mu.Unlock()
		return
	}
	j.status.State = StateInProgress
	spec := j.spec
	l.mu.Unlock()

	var st JobStatus
	err := run(ctx, l.runner, spec, &st)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	j.status.Backup = st.Backup
	j.status.Restore = st.Restore
	j.status.Verification = st.Verification
	j.status.Cleanup = st.Cleanup
	j.status.FinishedAt = &now
	switch {
	case err == nil && st.Backup != nil && st.Backup.Status == model.StatusCancelled:
		j.status.State = StateCancelled
	case err == nil:
		j.status.State = StateSuccess
	default:
		j.status.State = StateFailure
		j.status.Error = err.Error()
		j.status.ErrorKind = errs.KindOf(err).String()
		if errors.Is(err, context.Canceled) {
			j.status.State = StateCancelled
		}
		l.logger.Warn().Err(err).Str("job_id", id).Msg("job failed")
	}
}
