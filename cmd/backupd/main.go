package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"

	"github.com/edvin/tenantvault/internal/activity"
	"github.com/edvin/tenantvault/internal/api"
	"github.com/edvin/tenantvault/internal/api/middleware"
	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/backoff"
	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/config"
	"github.com/edvin/tenantvault/internal/core"
	"github.com/edvin/tenantvault/internal/db"
	"github.com/edvin/tenantvault/internal/dr"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/logging"
	"github.com/edvin/tenantvault/internal/metrics"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/restore"
	"github.com/edvin/tenantvault/internal/selfservice"
	"github.com/edvin/tenantvault/internal/storage"
	"github.com/edvin/tenantvault/internal/tenantdata"
	"github.com/edvin/tenantvault/internal/workflow"
)

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "create-api-key" {
		createAPIKey(os.Args[2:])
		return
	}

	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "", "Migration files directory (defaults to MIGRATIONS_DIR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *migrateFlag {
		dir := cfg.MigrationsDir
		if *migrateDirFlag != "" {
			dir = *migrateDirFlag
		}
		logger.Info().Str("dir", dir).Msg("running database migrations")
		applied, err := db.RunMigrations(ctx, cfg.CoreDatabaseURL, dir)
		if err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Ints64("versions", applied).Msg("database migrations applied")
	}

	corePool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL, cfg.ServiceName)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to core database")
	}
	defer corePool.Close()
	metrics.RegisterPgxPoolMetrics(prometheus.DefaultRegisterer, corePool)

	dataFile, err := config.LoadDataFile(cfg.DataConfigFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load data config")
	}

	primary, err := storage.NewProvider(ctx, cfg.Primary)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure primary storage provider")
	}
	secondary, err := storage.NewProvider(ctx, cfg.Secondary)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure secondary storage provider")
	}
	gateway := storage.NewGateway(primary, secondary, storage.Options{
		Strategy: model.FailoverStrategy(cfg.DefaultStrategy),
		Prices:   dataFile.Prices,
		Usage:    storage.NewPGUsageStore(corePool),
		Settings: core.NewPlatformConfigService(corePool),
		Logger:   logger,
	})
	if err := gateway.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise storage gateway")
	}
	go gateway.RunFlusher(ctx, cfg.UsageFlushInterval)

	loc, err := time.LoadLocation(cfg.SelfServiceTZ)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load self-service time zone")
	}

	retry := backoff.Policy{
		MaxAttempts:     cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
	}
	cat := catalog.NewPostgres(corePool)
	data := tenantdata.NewPostgres(corePool, dataFile.Tables)
	builder := artifact.NewBuilder(data, cfg.StagingDir, logger)
	runner := backup.NewRunner(cat, builder, gateway, retry, logger)
	orchestrator := restore.NewOrchestrator(cat, data, gateway, cfg.StagingDir, retry, logger)
	coordinator := dr.NewCoordinator(cat, runner, orchestrator, gateway, logger)
	selfService := selfservice.NewService(cat, runner, gateway, data, selfservice.Config{
		LocalDir: cfg.SelfServiceDir,
		TokenTTL: cfg.DownloadTokenTTL,
		Location: loc,
	}, logger)

	checks := map[string]api.ReadinessCheck{
		"core_db": corePool.Ping,
	}

	var queue jobs.Queue
	if cfg.JobBackend == config.JobBackendTemporal {
		tc := dialTemporal(cfg, logger)
		defer tc.Close()

		w := worker.New(tc, jobs.TaskQueue, worker.Options{
			Interceptors: []interceptor.WorkerInterceptor{&workflow.ActivityErrorInterceptor{}},
		})
		w.RegisterActivity(activity.NewBackups(runner, selfService, cfg.SelfServiceDir))
		w.RegisterActivity(activity.NewRestores(orchestrator))
		w.RegisterActivity(activity.NewDR(coordinator))

		workflow.SetRetryPolicy(retry)
		w.RegisterWorkflow(workflow.BackupWorkflow)
		w.RegisterWorkflow(workflow.SelfServiceBackupWorkflow)
		w.RegisterWorkflow(workflow.PlatformBackupWorkflow)
		w.RegisterWorkflow(workflow.RestoreWorkflow)
		w.RegisterWorkflow(workflow.VerifyBackupsWorkflow)
		w.RegisterWorkflow(workflow.CleanupSelfServiceWorkflow)
		w.RegisterWorkflow(workflow.CleanupOldBackupsWorkflow)

		go func() {
			logger.Info().Str("taskQueue", jobs.TaskQueue).Msg("starting temporal worker")
			if err := w.Run(worker.InterruptCh()); err != nil {
				logger.Fatal().Err(err).Msg("worker failed")
			}
		}()

		registerCronSchedules(ctx, tc, cfg, logger)

		checks["temporal"] = func(ctx context.Context) error {
			_, err := tc.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
			return err
		}
		queue = jobs.NewTemporal(tc)
	} else {
		local := jobs.NewLocal(core.NewJobRunner(runner, orchestrator, coordinator, selfService), cfg.LocalWorkers, logger)
		local.Start(ctx)
		queue = local

		scheduler, err := jobs.NewScheduler(localSchedules(cfg, coordinator, queue), logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid schedule")
		}
		scheduler.Start(ctx)
		logger.Info().Int("workers", cfg.LocalWorkers).Msg("using in-process job backend")
	}

	services := core.NewServices(core.Deps{
		Catalog:      cat,
		Gateway:      gateway,
		Runner:       runner,
		Orchestrator: orchestrator,
		Coordinator:  coordinator,
		SelfService:  selfService,
		Queue:        queue,
		Logger:       logger,
	})

	auditLogger := middleware.NewAuditLogger(corePool, logger)
	defer auditLogger.Close()

	srv := api.NewServer(logger, services, api.Options{
		DB:          corePool,
		Auth:        core.NewAPIKeyService(corePool),
		AuditLogger: auditLogger,
		Checks:      checks,
	})

	// Downloads stream whole artifacts, so writes are not time-boxed.
	httpServer := &http.Server{
		Addr:        cfg.HTTPListenAddr,
		Handler:     srv,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting backup API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	if cfg.MetricsAddr != "" {
		metricsSrv := metrics.NewServer(cfg.MetricsAddr, corePool.Ping)
		go func() {
			logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	if err := gateway.Flush(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("flushing storage usage")
	}
	cancel()
}

func dialTemporal(cfg *config.Config, logger zerolog.Logger) temporalclient.Client {
	tlsConfig, err := cfg.TemporalTLS()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure temporal TLS")
	}
	dialOpts := temporalclient.Options{HostPort: cfg.TemporalAddress, Namespace: cfg.TemporalNamespace}
	if tlsConfig != nil {
		dialOpts.ConnectionOptions = temporalclient.ConnectionOptions{TLS: tlsConfig}
		logger.Info().Msg("temporal mTLS enabled")
	}
	tc, err := temporalclient.Dial(dialOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to temporal")
	}
	return tc
}

type cronSchedule struct {
	id       string
	cron     string
	workflow any
	args     []any
}

func registerCronSchedules(ctx context.Context, tc temporalclient.Client, cfg *config.Config, logger zerolog.Logger) {
	schedules := []cronSchedule{
		{
			id:       "platform-backup-cron",
			cron:     cfg.PlatformBackupCron,
			workflow: workflow.PlatformBackupWorkflow,
		},
		{
			id:       "backup-verify-cron",
			cron:     cfg.VerifyCron,
			workflow: workflow.VerifyBackupsWorkflow,
			args:     []any{jobs.VerifyParams{Limit: cfg.VerifyLimit}},
		},
		{
			id:       "self-service-cleanup-cron",
			cron:     cfg.SelfServiceCleanupCron,
			workflow: workflow.CleanupSelfServiceWorkflow,
			args:     []any{jobs.CleanupParams{OlderThanDays: cfg.SelfServiceCleanupDays}},
		},
		{
			id:       "backup-retention-cron",
			cron:     cfg.RetentionCron,
			workflow: workflow.CleanupOldBackupsWorkflow,
			args:     []any{jobs.RetentionParams{RetentionDays: cfg.BackupRetentionDays}},
		},
	}

	scheduleClient := tc.ScheduleClient()
	for _, s := range schedules {
		if s.cron == "" {
			logger.Info().Str("id", s.id).Msg("cron schedule disabled")
			continue
		}
		_, err := scheduleClient.Create(ctx, temporalclient.ScheduleOptions{
			ID: s.id,
			Spec: temporalclient.ScheduleSpec{
				CronExpressions: []string{s.cron},
			},
			Action: &temporalclient.ScheduleWorkflowAction{
				ID:        s.id,
				Workflow:  s.workflow,
				Args:      s.args,
				TaskQueue: jobs.TaskQueue,
			},
		})
		if err != nil {
			if strings.Contains(err.Error(), "already exists") || strings.Contains(err.Error(), "AlreadyExists") || strings.Contains(err.Error(), "already registered") {
				logger.Info().Str("id", s.id).Msg("cron schedule already exists, skipping")
			} else {
				logger.Fatal().Err(err).Str("id", s.id).Msg("failed to create cron schedule")
			}
		} else {
			logger.Info().Str("id", s.id).Str("cron", s.cron).Msg("created cron schedule")
		}
	}
}

// localSchedules mirrors the Temporal schedules for the in-process backend.
// Each run submits a job so it shows up in job status like any other.
func localSchedules(cfg *config.Config, coordinator *dr.Coordinator, queue jobs.Queue) []jobs.Schedule {
	submit := func(spec jobs.TaskSpec) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			_, err := queue.Submit(ctx, spec)
			return err
		}
	}

	var out []jobs.Schedule
	add := func(name, cron string, run func(ctx context.Context) error) {
		if cron != "" {
			out = append(out, jobs.Schedule{Name: name, Cron: cron, Run: run})
		}
	}

	add("platform-backup", cfg.PlatformBackupCron, func(ctx context.Context) error {
		rec, err := coordinator.StartPlatformBackup(ctx, "scheduler", model.OriginScheduled)
		if err != nil {
			return err
		}
		_, err = queue.Submit(ctx, jobs.TaskSpec{
			Type:   jobs.TypeBackup,
			Key:    rec.ID,
			Backup: &jobs.BackupParams{BackupID: rec.ID},
		})
		return err
	})
	add("backup-verify", cfg.VerifyCron, submit(jobs.TaskSpec{
		Type:   jobs.TypeVerify,
		Verify: &jobs.VerifyParams{Limit: cfg.VerifyLimit},
	}))
	add("self-service-cleanup", cfg.SelfServiceCleanupCron, submit(jobs.TaskSpec{
		Type:    jobs.TypeSelfServiceClean,
		Cleanup: &jobs.CleanupParams{OlderThanDays: cfg.SelfServiceCleanupDays},
	}))
	add("backup-retention", cfg.RetentionCron, submit(jobs.TaskSpec{
		Type:      jobs.TypeRetention,
		Retention: &jobs.RetentionParams{RetentionDays: cfg.BackupRetentionDays},
	}))
	return out
}

func createAPIKey(args []string) {
	fs := flag.NewFlagSet("create-api-key", flag.ExitOnError)
	name := fs.String("name", "", "Name for the API key (required)")
	fs.Parse(args)

	if *name == "" {
		fmt.Fprintln(os.Stderr, "error: --name is required")
		fmt.Fprintln(os.Stderr, "usage: backupd create-api-key --name <name>")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewCorePool(ctx, cfg.CoreDatabaseURL, cfg.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	key, rawKey, err := core.NewAPIKeyService(pool).Create(ctx, *name, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to create API key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key created.\n\n")
	fmt.Printf("  Name:   %s\n", key.Name)
	fmt.Printf("  ID:     %s\n", key.ID)
	fmt.Printf("  Key:    %s\n\n", rawKey)
	fmt.Printf("Save this key, it will not be shown again.\n")
}
