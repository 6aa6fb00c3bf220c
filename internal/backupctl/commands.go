package backupctl

import (
	"fmt"
	"net/url"
	"strconv"
)

// Created is the reply to a request that queued a job.
type Created struct {
	JobID   string `json:"job_id"`
	JobType string `json:"job_type"`
	BatchID string `json:"batch_id,omitempty"`
	Backup  *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"backup,omitempty"`
}

func (c *Client) created(path string, body any) (*Created, error) {
	resp, err := c.Post(path, body)
	if err != nil {
		return nil, err
	}
	var out Created
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateBackup(scope, tenantID string) (*Created, error) {
	body := map[string]string{"scope": scope}
	if tenantID != "" {
		body["tenant_id"] = tenantID
	}
	return c.created("/api/v1/backups", body)
}

func (c *Client) CreatePlatformBackup() (*Created, error) {
	return c.created("/api/v1/dr/backups", nil)
}

func (c *Client) CancelBackup(id string) (*Response, error) {
	return c.Post("/api/v1/backups/"+url.PathEscape(id)+"/cancel", nil)
}

func (c *Client) VerifyBackup(id, provider string) (*Response, error) {
	var body any
	if provider != "" {
		body = map[string]string{"provider": provider}
	}
	return c.Post("/api/v1/backups/"+url.PathEscape(id)+"/verify", body)
}

func (c *Client) GetBackup(id string) (*Response, error) {
	return c.Get("/api/v1/backups/" + url.PathEscape(id))
}

// ListBackups lists backups; empty filter values are omitted.
func (c *Client) ListBackups(filter map[string]string, limit int) (*Response, error) {
	return c.Get("/api/v1/backups" + query(filter, limit))
}

// RestoreRequest mirrors the body of POST /api/v1/restores.
type RestoreRequest struct {
	Target         string        `json:"target" yaml:"target"`
	TenantID       string        `json:"tenant_id,omitempty" yaml:"tenant_id"`
	BackupID       string        `json:"backup_id,omitempty" yaml:"backup_id"`
	Pairs          []RestorePair `json:"pairs,omitempty" yaml:"pairs"`
	AsOf           string        `json:"as_of,omitempty" yaml:"as_of"`
	SkipValidation bool          `json:"skip_validation,omitempty" yaml:"skip_validation"`
}

type RestorePair struct {
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	BackupID string `json:"backup_id" yaml:"backup_id"`
}

func (c *Client) CreateRestore(req RestoreRequest) (*Created, error) {
	return c.created("/api/v1/restores", req)
}

func (c *Client) ListRestores(filter map[string]string, limit int) (*Response, error) {
	return c.Get("/api/v1/restores" + query(filter, limit))
}

func (c *Client) RestorePoints(tenantID, provider string, limit int) (*Response, error) {
	return c.Get("/api/v1/tenants/" + url.PathEscape(tenantID) + "/restore-points" +
		query(map[string]string{"provider": provider}, limit))
}

func (c *Client) StorageUsage() (*Response, error) {
	return c.Get("/api/v1/storage/usage")
}

func (c *Client) StorageHealth() (*Response, error) {
	return c.Get("/api/v1/storage/health")
}

func (c *Client) SetFailoverStrategy(strategy string) (*Response, error) {
	return c.Put("/api/v1/storage/failover-strategy", map[string]string{"strategy": strategy})
}

func (c *Client) ResetUsage() (*Response, error) {
	return c.Post("/api/v1/storage/usage/reset", nil)
}

func (c *Client) VerifyRecent(limit int) (*Created, error) {
	return c.created("/api/v1/dr/verify", map[string]int{"limit": limit})
}

func (c *Client) DRHealth() (*Response, error) {
	return c.Get("/api/v1/dr/health")
}

func (c *Client) CleanupSelfService(olderThanDays int, deleteRecords bool) (*Created, error) {
	return c.created("/api/v1/self-service/cleanup", map[string]any{
		"older_than_days": olderThanDays,
		"delete_records":  deleteRecords,
	})
}

func query(filter map[string]string, limit int) string {
	v := url.Values{}
	for k, val := range filter {
		if val != "" {
			v.Set(k, val)
		}
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

// DownloadPath is the public download route of a token.
func DownloadPath(token string) string {
	return fmt.Sprintf("/downloads/%s", url.PathEscape(token))
}
