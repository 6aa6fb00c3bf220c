package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCancelled, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInProgress, false},
		{StatusCompleted, StatusPending, false},
		{StatusCancelled, StatusInProgress, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusCompleted))
	assert.True(t, IsTerminal(StatusFailed))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusInProgress))
}

func TestTerminalStatusesHaveNoSuccessors(t *testing.T) {
	for _, from := range []string{StatusCompleted, StatusFailed, StatusCancelled} {
		for _, to := range []string{StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled} {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestParseFailoverStrategy(t *testing.T) {
	s, ok := ParseFailoverStrategy("DUAL_UPLOAD")
	assert.True(t, ok)
	assert.Equal(t, StrategyDualUpload, s)

	_, ok = ParseFailoverStrategy("dual_upload")
	assert.False(t, ok)
}

func TestClassifyHealth(t *testing.T) {
	assert.Equal(t, HealthHealthy, ClassifyHealth(100))
	assert.Equal(t, HealthHealthy, ClassifyHealth(90))
	assert.Equal(t, HealthWarning, ClassifyHealth(89))
	assert.Equal(t, HealthWarning, ClassifyHealth(70))
	assert.Equal(t, HealthCritical, ClassifyHealth(69))
}

func TestVerificationResult_Record(t *testing.T) {
	var v VerificationResult
	v.Record(VerificationCheck{BackupID: "b1", Provider: ProviderPrimary, OK: true})
	v.Record(VerificationCheck{BackupID: "b1", Provider: ProviderSecondary, OK: false, Error: "mismatch"})
	v.Record(VerificationCheck{BackupID: "b2", Provider: ProviderSecondary, Skipped: true})

	assert.Equal(t, ProviderTally{Succeeded: 1}, v.Primary)
	assert.Equal(t, ProviderTally{Failed: 1, Skipped: 1}, v.Secondary)
	assert.Len(t, v.Checks, 3)
}

func TestRestoreResult_Add(t *testing.T) {
	var r RestoreResult
	r.Add(TenantRestoreOutcome{TenantID: "t1", Status: StatusCompleted})
	r.Add(TenantRestoreOutcome{TenantID: "t2", Status: StatusFailed, Error: "checksum mismatch"})

	assert.Equal(t, 1, r.Completed)
	assert.Equal(t, 1, r.Failed)
	o, ok := r.Outcome("t2")
	assert.True(t, ok)
	assert.Equal(t, "checksum mismatch", o.Error)
}
