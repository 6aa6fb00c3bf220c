package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantvault_backups_total",
			Help: "Backups that reached a terminal status",
		},
		[]string{"scope", "origin", "status"},
	)

	BackupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantvault_backup_duration_seconds",
			Help:    "Time from build start to catalog completion",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"scope"},
	)

	RestoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantvault_tenant_restores_total",
			Help: "Per-tenant restores that reached a terminal status",
		},
		[]string{"status"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantvault_storage_operations_total",
			Help: "Object storage calls by provider role, operation and result",
		},
		[]string{"provider", "operation", "result"},
	)

	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantvault_verifications_total",
			Help: "Checksum verifications of platform backups",
		},
		[]string{"provider", "result"},
	)

	DRHealthScore = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tenantvault_dr_health_score",
		Help: "Most recently computed disaster-recovery health score (0-100)",
	})
)
