package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyCoreDBURL(t *testing.T) {
	// Config loads successfully even without CORE_DATABASE_URL set.
	os.Unsetenv("CORE_DATABASE_URL")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "", cfg.CoreDatabaseURL)
}

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"TEMPORAL_ADDRESS", "HTTP_LISTEN_ADDR", "LOG_LEVEL", "JOB_BACKEND",
		"DOWNLOAD_TOKEN_TTL", "FAILOVER_STRATEGY", "RETRY_MAX_ATTEMPTS", "PRIMARY_KIND", "SELF_SERVICE_TIMEZONE"} {
		os.Unsetenv(k)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:7233", cfg.TemporalAddress)
	assert.Equal(t, ":8090", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, JobBackendTemporal, cfg.JobBackend)
	assert.Equal(t, 24*time.Hour, cfg.DownloadTokenTTL)
	assert.Equal(t, "SECONDARY_FALLBACK", cfg.DefaultStrategy)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryInitialInterval)
	assert.Equal(t, 10*time.Second, cfg.RetryMaxInterval)
	assert.Equal(t, ProviderKindS3, cfg.Primary.Kind)
	assert.Equal(t, "UTC", cfg.SelfServiceTZ)
}

func TestLoad_ProviderPrefixes(t *testing.T) {
	t.Setenv("PRIMARY_KIND", "gcs")
	t.Setenv("PRIMARY_BUCKET", "vault-primary")
	t.Setenv("PRIMARY_CREDENTIALS_FILE", "/etc/gcs.json")
	t.Setenv("SECONDARY_KIND", "azure")
	t.Setenv("SECONDARY_BUCKET", "vault-secondary")
	t.Setenv("SECONDARY_ACCOUNT_NAME", "acct")
	t.Setenv("SECONDARY_ACCOUNT_KEY", "a2V5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderConfig{Kind: "gcs", Bucket: "vault-primary", Region: "us-east-1", CredentialsFile: "/etc/gcs.json"}, cfg.Primary)
	assert.Equal(t, "azure", cfg.Secondary.Kind)
	assert.Equal(t, "acct", cfg.Secondary.AccountName)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("DOWNLOAD_TOKEN_TTL", "tomorrow")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DOWNLOAD_TOKEN_TTL")
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("BACKUP_RETENTION_DAYS", "thirty")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKUP_RETENTION_DAYS")
}

func validConfig() *Config {
	return &Config{
		CoreDatabaseURL:  "postgres://localhost/core",
		JobBackend:       JobBackendLocal,
		LocalWorkers:     2,
		SelfServiceTZ:    "Europe/Oslo",
		RetryMaxAttempts: 3,
		Primary:          ProviderConfig{Kind: ProviderKindS3, Bucket: "a", AccessKey: "k", SecretKey: "s"},
		Secondary:        ProviderConfig{Kind: ProviderKindGCS, Bucket: "b"},
	}
}

func TestValidate_OK(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := validConfig()
	cfg.CoreDatabaseURL = ""
	cfg.JobBackend = "redis"
	cfg.Secondary = ProviderConfig{Kind: ProviderKindAzure, Bucket: "b"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORE_DATABASE_URL is required")
	assert.Contains(t, err.Error(), "JOB_BACKEND must be")
	assert.Contains(t, err.Error(), "SECONDARY_ACCOUNT_NAME")
}

func TestValidate_UnknownProviderKind(t *testing.T) {
	cfg := validConfig()
	cfg.Primary.Kind = "ftp"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `PRIMARY_KIND must be one of s3, gcs, azure (got "ftp")`)
}

func TestValidate_BadTimeZone(t *testing.T) {
	cfg := validConfig()
	cfg.SelfServiceTZ = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SELF_SERVICE_TIMEZONE")
}

func TestLoadDataFile_Defaults(t *testing.T) {
	df, err := LoadDataFile("")
	require.NoError(t, err)
	assert.Equal(t, "customers", df.TableNames()[0])
	assert.Contains(t, df.Prices, ProviderKindS3)
}

func TestLoadDataFile_Override(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tables:
  - name: accounts
  - name: vouchers
    tenant_column: company_id
prices:
  s3:
    storage_per_gb: 0.01
    per_request: 0.000001
`), 0o600))

	df, err := LoadDataFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"accounts", "vouchers"}, df.TableNames())
	assert.Equal(t, "tenant_id", df.Tables[0].TenantColumn)
	assert.Equal(t, "company_id", df.Tables[1].TenantColumn)
	assert.Equal(t, 0.01, df.Prices[ProviderKindS3].StoragePerGB)
	assert.Equal(t, 0.018, df.Prices[ProviderKindAzure].StoragePerGB)
}

func TestLoadDataFile_MissingName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tables:\n  - tenant_column: x\n"), 0o600))

	_, err := LoadDataFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table 0 has no name")
}

func TestLoadDataFile_NotFound(t *testing.T) {
	_, err := LoadDataFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read data config")
}
