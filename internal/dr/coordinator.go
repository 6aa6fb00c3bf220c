// Package dr coordinates disaster recovery: scheduled platform backups,
// checksum verification of recent platform backups on both providers and a
// health score summarizing backup freshness and provider availability.
package dr

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/metrics"
	"github.com/edvin/tenantvault/internal/model"
)

// Score penalties.
const (
	PenaltyStaleBackup       = 30
	PenaltyPrimaryDown       = 40
	PenaltySecondaryDown     = 20
	PenaltyVerificationMin   = 10
	PenaltyVerificationRange = 20

	// VerificationThreshold is the success ratio below which verification
	// is penalized.
	VerificationThreshold = 0.9
	// VerificationWindow is the number of most recent checks scored.
	VerificationWindow = 20
	// BackupFreshness is how recent the last platform backup must be.
	BackupFreshness = 24 * time.Hour
)

// Pinger probes a storage provider. It never fails; unavailability is
// reported in the result.
type Pinger interface {
	Ping(ctx context.Context, provider string) model.PingResult
}

// Verifier recomputes a backup's checksum on one provider.
type Verifier interface {
	Validate(ctx context.Context, backupID, provider string) (bool, error)
}

// Backups starts and runs backups.
type Backups interface {
	Start(ctx context.Context, req backup.Request) (*model.BackupRecord, error)
	Execute(ctx context.Context, id string, opts backup.RunOptions) (*model.BackupResult, error)
}

type Coordinator struct {
	catalog  catalog.Catalog
	backups  Backups
	verifier Verifier
	pinger   Pinger
	logger   zerolog.Logger
	now      func() time.Time
}

func NewCoordinator(cat catalog.Catalog, backups Backups, verifier Verifier, pinger Pinger, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		catalog:  cat,
		backups:  backups,
		verifier: verifier,
		pinger:   pinger,
		logger:   logger.With().Str("component", "dr").Logger(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// StartPlatformBackup records a pending platform backup.
func (c *Coordinator) StartPlatformBackup(ctx context.Context, initiator, origin string) (*model.BackupRecord, error) {
	return c.backups.Start(ctx, backup.Request{
		Scope:       model.ScopePlatform,
		Origin:      origin,
		InitiatedBy: initiator,
	})
}

// CreatePlatformBackup starts a platform backup and runs it to completion.
func (c *Coordinator) CreatePlatformBackup(ctx context.Context, initiator, origin string) (*model.BackupResult, error) {
	b, err := c.StartPlatformBackup(ctx, initiator, origin)
	if err != nil {
		return nil, err
	}
	return c.backups.Execute(ctx, b.ID, backup.RunOptions{})
}

// VerifyRecent verifies the limit most recent completed platform backups on
// each provider independently. A provider holding no copy of a backup is
// counted as skipped. Every check is persisted for health scoring.
func (c *Coordinator) VerifyRecent(ctx context.Context, limit int) (*model.VerificationResult, error) {
	backups, err := c.catalog.ListBackups(ctx, catalog.BackupFilter{
		Scope:  model.ScopePlatform,
		Status: model.StatusCompleted,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("list platform backups: %w", err)
	}

	result := &model.VerificationResult{Checks: []model.VerificationCheck{}}
	for _, b := range backups {
		result.BackupsChecked++
		for _, provider := range []string{model.ProviderPrimary, model.ProviderSecondary} {
			check := c.verify(ctx, &b, provider)
			result.Record(check)
			if check.Skipped {
				continue
			}
			if err := c.catalog.RecordVerification(ctx, &model.VerificationRecord{
				BackupID:   b.ID,
				Provider:   provider,
				OK:         check.OK,
				Error:      check.Error,
				VerifiedAt: c.now(),
			}); err != nil {
				return result, fmt.Errorf("record verification of %s on %s: %w", b.ID, provider, err)
			}
		}
	}

	c.logger.Info().
		Int("backups", result.BackupsChecked).
		Int("primary_ok", result.Primary.Succeeded).Int("primary_failed", result.Primary.Failed).
		Int("secondary_ok", result.Secondary.Succeeded).Int("secondary_failed", result.Secondary.Failed).
		Msg("platform backups verified")
	return result, nil
}

func (c *Coordinator) verify(ctx context.Context, b *model.BackupRecord, provider string) model.VerificationCheck {
	check := model.VerificationCheck{BackupID: b.ID, Provider: provider}
	if _, ok := b.Location(provider); !ok {
		check.Skipped = true
		metrics.VerificationsTotal.WithLabelValues(provider, "skipped").Inc()
		return check
	}

	ok, err := c.verifier.Validate(ctx, b.ID, provider)
	switch {
	case err != nil:
		check.Error = err.Error()
		metrics.VerificationsTotal.WithLabelValues(provider, "error").Inc()
		c.logger.Warn().Err(err).Str("backup_id", b.ID).Str("provider", provider).Msg("verification failed")
	case !ok:
		check.Error = "checksum mismatch"
		metrics.VerificationsTotal.WithLabelValues(provider, "mismatch").Inc()
	default:
		check.OK = true
		metrics.VerificationsTotal.WithLabelValues(provider, "ok").Inc()
	}
	return check
}

// ComputeHealth scores disaster-recovery readiness. Alerts are advisory and
// nothing is persisted besides the exported gauge.
func (c *Coordinator) ComputeHealth(ctx context.Context) (*model.HealthReport, error) {
	now := c.now()
	report := &model.HealthReport{
		Score:       100,
		Alerts:      []model.Alert{},
		GeneratedAt: now,
	}

	pings := make([]model.PingResult, 2)
	g, gctx := errgroup.WithContext(ctx)
	for i, provider := range []string{model.ProviderPrimary, model.ProviderSecondary} {
		g.Go(func() error {
			pings[i] = c.pinger.Ping(gctx, provider)
			return nil
		})
	}

	var latest []model.BackupRecord
	var checks []model.VerificationRecord
	g.Go(func() error {
		var err error
		latest, err = c.catalog.ListBackups(gctx, catalog.BackupFilter{
			Scope:  model.ScopePlatform,
			Status: model.StatusCompleted,
		}, 1)
		if err != nil {
			return fmt.Errorf("find latest platform backup: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		checks, err = c.catalog.RecentVerifications(gctx, VerificationWindow)
		if err != nil {
			return fmt.Errorf("load recent verifications: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	report.Providers = pings

	if len(latest) > 0 {
		at := latest[0].CreatedAt
		if latest[0].CompletedAt != nil {
			at = *latest[0].CompletedAt
		}
		report.LastPlatformBackupAt = &at
	}
	if report.LastPlatformBackupAt == nil || now.Sub(*report.LastPlatformBackupAt) > BackupFreshness {
		report.Score -= PenaltyStaleBackup
		report.Alerts = append(report.Alerts, model.Alert{
			Severity:       model.SeverityWarning,
			Condition:      "stale_backup",
			Message:        "no platform backup completed in the last 24 hours",
			Recommendation: "Check the platform backup schedule and trigger a platform backup now.",
		})
	}

	for _, p := range pings {
		if p.Available {
			continue
		}
		alert := model.Alert{
			Condition: p.Provider + "_unreachable",
			Message:   fmt.Sprintf("%s storage provider is unreachable: %s", p.Provider, p.Error),
		}
		if p.Provider == model.ProviderPrimary {
			report.Score -= PenaltyPrimaryDown
			alert.Severity = model.SeverityCritical
			alert.Recommendation = "Switch the failover strategy to SECONDARY_FALLBACK and investigate primary credentials and connectivity."
		} else {
			report.Score -= PenaltySecondaryDown
			alert.Severity = model.SeverityWarning
			alert.Recommendation = "New backups have no redundant copy; restore secondary provider access."
		}
		report.Alerts = append(report.Alerts, alert)
	}

	if len(checks) > 0 {
		ok := 0
		for _, v := range checks {
			if v.OK {
				ok++
			}
		}
		ratio := float64(ok) / float64(len(checks))
		report.VerificationRatio = &ratio
		if penalty := VerificationPenalty(ratio); penalty > 0 {
			report.Score -= penalty
			severity := model.SeverityWarning
			if penalty >= 20 {
				severity = model.SeverityCritical
			}
			report.Alerts = append(report.Alerts, model.Alert{
				Severity:       severity,
				Condition:      "verification_failures",
				Message:        fmt.Sprintf("%d of the last %d verifications succeeded", ok, len(checks)),
				Recommendation: "Run a verification and replace corrupted artifacts with a fresh platform backup.",
			})
		}
	}

	if report.Score < 0 {
		report.Score = 0
	}
	report.Status = model.ClassifyHealth(report.Score)
	metrics.DRHealthScore.Set(float64(report.Score))

	c.logger.Info().Int("score", report.Score).Str("status", report.Status).
		Int("alerts", len(report.Alerts)).Msg("health computed")
	return report, nil
}

// VerificationPenalty scales linearly from 10 just below the threshold to 30
// at a ratio of zero.
func VerificationPenalty(ratio float64) int {
	if ratio >= VerificationThreshold {
		return 0
	}
	if ratio < 0 {
		ratio = 0
	}
	scaled := (VerificationThreshold - ratio) / VerificationThreshold * PenaltyVerificationRange
	return PenaltyVerificationMin + int(math.Round(scaled))
}
