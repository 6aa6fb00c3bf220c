package model

import "time"

// FailoverStrategy governs how uploads are distributed across providers.
type FailoverStrategy string

const (
	StrategyPrimaryOnly       FailoverStrategy = "PRIMARY_ONLY"
	StrategySecondaryFallback FailoverStrategy = "SECONDARY_FALLBACK"
	StrategyDualUpload        FailoverStrategy = "DUAL_UPLOAD"
)

func ParseFailoverStrategy(s string) (FailoverStrategy, bool) {
	switch FailoverStrategy(s) {
	case StrategyPrimaryOnly, StrategySecondaryFallback, StrategyDualUpload:
		return FailoverStrategy(s), true
	}
	return "", false
}

// StorageUsageStat holds the running usage counters of one provider.
type StorageUsageStat struct {
	Provider         string     `json:"provider"`
	Kind             string     `json:"kind,omitempty"`
	ObjectCount      int64      `json:"object_count"`
	TotalBytes       int64      `json:"total_bytes"`
	Requests         int64      `json:"requests"`
	EstimatedCostUSD float64    `json:"estimated_cost_usd"`
	ResetAt          *time.Time `json:"reset_at,omitempty"`
}

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key       string   `json:"key"`
	Size      int64    `json:"size"`
	Providers []string `json:"providers,omitempty"`
}

// PingResult is the outcome of a provider reachability probe.
type PingResult struct {
	Provider  string `json:"provider"`
	Kind      string `json:"kind,omitempty"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// StorageHealth is the admin view of both providers.
type StorageHealth struct {
	Strategy  FailoverStrategy `json:"strategy"`
	Providers []PingResult     `json:"providers"`
}
