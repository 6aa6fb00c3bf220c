package model

import "time"

// VerificationRecord is one persisted checksum verification of a backup on
// one provider.
type VerificationRecord struct {
	ID         string    `json:"id"`
	BackupID   string    `json:"backup_id"`
	Provider   string    `json:"provider"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	VerifiedAt time.Time `json:"verified_at"`
}

// ProviderTally aggregates verification outcomes for one provider.
type ProviderTally struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// VerificationCheck is one backup/provider pair examined by a verification run.
type VerificationCheck struct {
	BackupID string `json:"backup_id"`
	Provider string `json:"provider"`
	OK       bool   `json:"ok"`
	Skipped  bool   `json:"skipped,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VerificationResult is the typed outcome of a verification job.
type VerificationResult struct {
	BackupsChecked int                 `json:"backups_checked"`
	Primary        ProviderTally       `json:"primary"`
	Secondary      ProviderTally       `json:"secondary"`
	Checks         []VerificationCheck `json:"checks"`
}

// Record appends a check and updates the provider tally.
func (v *VerificationResult) Record(c VerificationCheck) {
	v.Checks = append(v.Checks, c)
	tally := &v.Primary
	if c.Provider == ProviderSecondary {
		tally = &v.Secondary
	}
	switch {
	case c.Skipped:
		tally.Skipped++
	case c.OK:
		tally.Succeeded++
	default:
		tally.Failed++
	}
}

// Health classifications.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
)

// Alert is one advisory condition raised by health scoring.
type Alert struct {
	Severity       string `json:"severity"`
	Condition      string `json:"condition"`
	Message        string `json:"message"`
	Recommendation string `json:"recommendation"`
}

// HealthReport is the disaster-recovery health summary.
type HealthReport struct {
	Score                int          `json:"score"`
	Status               string       `json:"status"`
	LastPlatformBackupAt *time.Time   `json:"last_platform_backup_at,omitempty"`
	Providers            []PingResult `json:"providers"`
	VerificationRatio    *float64     `json:"verification_ratio,omitempty"`
	Alerts               []Alert      `json:"alerts"`
	GeneratedAt          time.Time    `json:"generated_at"`
}

// ClassifyHealth maps a score to its classification.
func ClassifyHealth(score int) string {
	switch {
	case score >= 90:
		return HealthHealthy
	case score >= 70:
		return HealthWarning
	default:
		return HealthCritical
	}
}
