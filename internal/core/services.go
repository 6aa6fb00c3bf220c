package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/dr"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/restore"
	"github.com/edvin/tenantvault/internal/selfservice"
	"github.com/edvin/tenantvault/internal/storage"
)

// DB defines the database operations used by core services.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Deps are the components the services are built from.
type Deps struct {
	Catalog      catalog.Catalog
	Gateway      *storage.Gateway
	Runner       *backup.Runner
	Orchestrator *restore.Orchestrator
	Coordinator  *dr.Coordinator
	SelfService  *selfservice.Service
	Queue        jobs.Queue
	Logger       zerolog.Logger
}

// Services is the public surface of the backup subsystem.
type Services struct {
	Backup      *BackupService
	Restore     *RestoreService
	Storage     *StorageService
	DR          *DRService
	SelfService *SelfServiceService
	Jobs        *JobService
}

func NewServices(d Deps) *Services {
	return &Services{
		Backup:      NewBackupService(d.Catalog, d.Runner, d.Orchestrator, d.Queue, d.Logger),
		Restore:     NewRestoreService(d.Catalog, d.Orchestrator, d.Queue),
		Storage:     NewStorageService(d.Gateway),
		DR:          NewDRService(d.Coordinator, d.Runner, d.Queue, d.Logger),
		SelfService: NewSelfServiceService(d.SelfService, d.Runner, d.Queue, d.Logger),
		Jobs:        NewJobService(d.Queue),
	}
}

// CreatedJob pairs a record created by a request with the job processing it.
type CreatedJob struct {
	JobID string    `json:"job_id"`
	Type  jobs.Type `json:"job_type"`
}

func createdJob(h *jobs.JobHandle) CreatedJob {
	return CreatedJob{JobID: h.ID, Type: h.Type}
}

// ctxTimeout bounds cleanup work that must outlive a cancelled request.
const ctxTimeout = 10 * time.Second

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), ctxTimeout)
}
