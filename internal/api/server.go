package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/api/handler"
	mw "github.com/edvin/tenantvault/internal/api/middleware"
	"github.com/edvin/tenantvault/internal/core"
)

// ReadinessCheck reports whether one dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options are the server's collaborators outside the service layer.
type Options struct {
	// DB backs the API key and audit log routes.
	DB          core.DB
	Auth        mw.Authenticator
	AuditLogger *mw.AuditLogger
	Checks      map[string]ReadinessCheck
}

type Server struct {
	router   chi.Router
	logger   zerolog.Logger
	services *core.Services
	opts     Options
}

func NewServer(logger zerolog.Logger, services *core.Services, opts Options) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
		opts:     opts,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health check endpoints
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)

	// Self-service downloads are authorised by the token in the path.
	selfService := handler.NewSelfService(s.services.SelfService)
	s.router.Get("/downloads/{token}", selfService.Download)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.Auth(s.opts.Auth))
		if s.opts.AuditLogger != nil {
			r.Use(s.opts.AuditLogger.Middleware)
		}

		// Backups
		backup := handler.NewBackup(s.services.Backup)
		r.Get("/backups", backup.List)
		r.Post("/backups", backup.Create)
		r.Get("/backups/{id}", backup.Get)
		r.Post("/backups/{id}/cancel", backup.Cancel)
		r.Post("/backups/{id}/verify", backup.Verify)

		// Restores
		restore := handler.NewRestore(s.services.Restore)
		r.Get("/restores", restore.List)
		r.Post("/restores", restore.Create)
		r.Get("/restores/{id}", restore.Get)
		r.Get("/tenants/{tenantID}/restore-points", restore.RestorePoints)

		// Self-service backups
		r.Post("/tenants/{tenantID}/self-service-backups", selfService.Create)
		r.Get("/tenants/{tenantID}/self-service-backups/limit", selfService.Limit)
		r.Post("/tenants/{tenantID}/self-service-backups/{backupID}/download-token", selfService.ReissueToken)
		r.Post("/self-service/cleanup", selfService.Cleanup)

		// Jobs
		job := handler.NewJob(s.services.Jobs)
		r.Get("/jobs/{jobID}", job.Get)

		// Storage
		storage := handler.NewStorage(s.services.Storage)
		r.Get("/storage/usage", storage.Usage)
		r.Post("/storage/usage/reset", storage.ResetUsage)
		r.Get("/storage/health", storage.Health)
		r.Put("/storage/failover-strategy", storage.SetFailoverStrategy)

		// Disaster recovery
		dr := handler.NewDR(s.services.DR)
		r.Post("/dr/backups", dr.CreateBackup)
		r.Post("/dr/verify", dr.Verify)
		r.Get("/dr/health", dr.Health)

		if s.opts.DB != nil {
			// Audit logs
			audit := handler.NewAudit(s.opts.DB)
			r.Get("/audit-logs", audit.List)

			// API keys
			apiKey := handler.NewAPIKey(core.NewAPIKeyService(s.opts.DB))
			r.Get("/api-keys", apiKey.List)
			r.Post("/api-keys", apiKey.Create)
			r.Delete("/api-keys/{id}", apiKey.Revoke)
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			healthy = false
		} else {
			checks[name] = "ok"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(checks)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
