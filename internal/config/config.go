package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Job backends.
const (
	JobBackendTemporal = "temporal"
	JobBackendLocal    = "local"
)

// Storage backend kinds.
const (
	ProviderKindS3    = "s3"
	ProviderKindGCS   = "gcs"
	ProviderKindAzure = "azure"
)

type Config struct {
	ServiceName    string
	LogLevel       string
	HTTPListenAddr string
	MetricsAddr    string

	CoreDatabaseURL string
	MigrationsDir   string

	TemporalAddress       string
	TemporalNamespace     string
	TemporalTLSCert       string
	TemporalTLSKey        string
	TemporalTLSCACert     string
	TemporalTLSServerName string

	// JobBackend selects Temporal or the in-process worker pool.
	JobBackend   string
	LocalWorkers int

	StagingDir       string
	SelfServiceDir   string
	SelfServiceTZ    string
	DownloadTokenTTL time.Duration

	BackupRetentionDays int
	VerifyLimit         int
	UsageFlushInterval  time.Duration
	DefaultStrategy     string

	PlatformBackupCron     string
	VerifyCron             string
	SelfServiceCleanupCron string
	SelfServiceCleanupDays int
	RetentionCron          string

	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	Primary   ProviderConfig
	Secondary ProviderConfig

	// DataConfigFile points at the YAML file holding the tenant table list
	// and provider prices.
	DataConfigFile string
}

// ProviderConfig configures one object-storage provider role.
type ProviderConfig struct {
	Kind            string
	Bucket          string
	Region          string
	Endpoint        string
	AccessKey       string
	SecretKey       string
	CredentialsFile string
	AccountName     string
	AccountKey      string
}

func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", "backupd"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr: getEnv("HTTP_LISTEN_ADDR", ":8090"),
		MetricsAddr:    getEnv("METRICS_ADDR", ""),

		CoreDatabaseURL: getEnv("CORE_DATABASE_URL", ""),
		MigrationsDir:   getEnv("MIGRATIONS_DIR", "migrations/core"),

		TemporalAddress:       getEnv("TEMPORAL_ADDRESS", "localhost:7233"),
		TemporalNamespace:     getEnv("TEMPORAL_NAMESPACE", "default"),
		TemporalTLSCert:       getEnv("TEMPORAL_TLS_CERT", ""),
		TemporalTLSKey:        getEnv("TEMPORAL_TLS_KEY", ""),
		TemporalTLSCACert:     getEnv("TEMPORAL_TLS_CA_CERT", ""),
		TemporalTLSServerName: getEnv("TEMPORAL_TLS_SERVER_NAME", ""),

		JobBackend:     getEnv("JOB_BACKEND", JobBackendTemporal),
		StagingDir:     getEnv("STAGING_DIR", os.TempDir()),
		SelfServiceDir: getEnv("SELF_SERVICE_DIR", "/var/lib/tenantvault/self-service"),
		SelfServiceTZ:  getEnv("SELF_SERVICE_TIMEZONE", "UTC"),

		DefaultStrategy: getEnv("FAILOVER_STRATEGY", "SECONDARY_FALLBACK"),

		PlatformBackupCron:     getEnv("PLATFORM_BACKUP_CRON", "0 2 * * *"),
		VerifyCron:             getEnv("VERIFY_CRON", "0 4 * * *"),
		SelfServiceCleanupCron: getEnv("SELF_SERVICE_CLEANUP_CRON", "30 3 * * *"),
		RetentionCron:          getEnv("RETENTION_CRON", "0 5 * * *"),

		Primary:   loadProvider("PRIMARY_"),
		Secondary: loadProvider("SECONDARY_"),

		DataConfigFile: getEnv("DATA_CONFIG_FILE", ""),
	}

	var err error
	if cfg.LocalWorkers, err = getEnvInt("LOCAL_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.BackupRetentionDays, err = getEnvInt("BACKUP_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.VerifyLimit, err = getEnvInt("VERIFY_LIMIT", 5); err != nil {
		return nil, err
	}
	if cfg.SelfServiceCleanupDays, err = getEnvInt("SELF_SERVICE_CLEANUP_DAYS", 1); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = getEnvInt("RETRY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.DownloadTokenTTL, err = getEnvDuration("DOWNLOAD_TOKEN_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.UsageFlushInterval, err = getEnvDuration("USAGE_FLUSH_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryInitialInterval, err = getEnvDuration("RETRY_INITIAL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxInterval, err = getEnvDuration("RETRY_MAX_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.CoreDatabaseURL == "" {
		problems = append(problems, "CORE_DATABASE_URL is required")
	}
	switch c.JobBackend {
	case JobBackendTemporal:
		if c.TemporalAddress == "" {
			problems = append(problems, "TEMPORAL_ADDRESS is required for the temporal job backend")
		}
	case JobBackendLocal:
		if c.LocalWorkers < 1 {
			problems = append(problems, "LOCAL_WORKERS must be at least 1")
		}
	default:
		problems = append(problems, fmt.Sprintf("JOB_BACKEND must be %q or %q", JobBackendTemporal, JobBackendLocal))
	}
	if _, err := time.LoadLocation(c.SelfServiceTZ); err != nil {
		problems = append(problems, fmt.Sprintf("SELF_SERVICE_TIMEZONE: %v", err))
	}
	if c.RetryMaxAttempts < 1 {
		problems = append(problems, "RETRY_MAX_ATTEMPTS must be at least 1")
	}
	problems = append(problems, c.Primary.validate("PRIMARY_")...)
	problems = append(problems, c.Secondary.validate("SECONDARY_")...)

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (p ProviderConfig) validate(prefix string) []string {
	var problems []string
	if p.Bucket == "" {
		problems = append(problems, prefix+"BUCKET is required")
	}
	switch p.Kind {
	case ProviderKindS3:
		if p.AccessKey == "" || p.SecretKey == "" {
			problems = append(problems, prefix+"ACCESS_KEY and "+prefix+"SECRET_KEY are required for s3")
		}
	case ProviderKindGCS:
	case ProviderKindAzure:
		if p.AccountName == "" || p.AccountKey == "" {
			problems = append(problems, prefix+"ACCOUNT_NAME and "+prefix+"ACCOUNT_KEY are required for azure")
		}
	default:
		problems = append(problems, fmt.Sprintf("%sKIND must be one of s3, gcs, azure (got %q)", prefix, p.Kind))
	}
	return problems
}

func loadProvider(prefix string) ProviderConfig {
	return ProviderConfig{
		Kind:            getEnv(prefix+"KIND", ProviderKindS3),
		Bucket:          getEnv(prefix+"BUCKET", ""),
		Region:          getEnv(prefix+"REGION", "us-east-1"),
		Endpoint:        getEnv(prefix+"ENDPOINT", ""),
		AccessKey:       getEnv(prefix+"ACCESS_KEY", ""),
		SecretKey:       getEnv(prefix+"SECRET_KEY", ""),
		CredentialsFile: getEnv(prefix+"CREDENTIALS_FILE", ""),
		AccountName:     getEnv(prefix+"ACCOUNT_NAME", ""),
		AccountKey:      getEnv(prefix+"ACCOUNT_KEY", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
