package backupctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestClient_SendsKeyAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tvk_test", r.Header.Get("X-API-Key"))
		assert.Equal(t, "/api/v1/backups", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tenant", body["scope"])
		assert.Equal(t, "t1", body["tenant_id"])
		writeJSON(w, http.StatusAccepted, map[string]any{
			"job_id":   "backup-b1",
			"job_type": "backup",
			"backup":   map[string]string{"id": "b1", "status": "pending"},
		})
	}))
	defer srv.Close()

	created, err := NewClient(srv.URL, "tvk_test").CreateBackup("tenant", "t1")
	require.NoError(t, err)
	assert.Equal(t, "backup-b1", created.JobID)
	require.NotNil(t, created.Backup)
	assert.Equal(t, "b1", created.Backup.ID)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "already ran today", "kind": "BusinessRuleError", "code": "daily_limit",
		})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k").CreateBackup("tenant", "t1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "daily_limit", apiErr.Code)
	assert.Contains(t, err.Error(), "BusinessRuleError")
}

func TestQuery(t *testing.T) {
	assert.Equal(t, "", query(nil, 0))
	assert.Equal(t, "?limit=5&tenant_id=t1", query(map[string]string{"tenant_id": "t1", "status": ""}, 5))
}

func TestWaitJob_PollsUntilTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/jobs/restore-x", r.URL.Path)
		state := jobs.StateInProgress
		if calls.Add(1) >= 3 {
			state = jobs.StateSuccess
		}
		writeJSON(w, http.StatusOK, jobs.JobStatus{ID: "restore-x", Type: jobs.TypeRestore, State: state})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := NewClient(srv.URL, "k").WaitJob(ctx, "restore-x", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSuccess, st.State)
	assert.EqualValues(t, 3, calls.Load())
}

func TestWaitJob_ContextDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, jobs.JobStatus{ID: "backup-b1", State: jobs.StatePending})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := NewClient(srv.URL, "k").WaitJob(ctx, "backup-b1", 5*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, jobs.StatePending, st.State)
}

func TestDownload_NoKeySent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-API-Key"))
		assert.Equal(t, "/downloads/tok", r.URL.Path)
		w.Write([]byte("artifact-bytes"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	n, err := NewClient(srv.URL, "secret").Download(DownloadPath("tok"), &buf)
	require.NoError(t, err)
	assert.EqualValues(t, len("artifact-bytes"), n)
	assert.Equal(t, "artifact-bytes", buf.String())
}

func TestApplyRestorePlan(t *testing.T) {
	var submitted []RestoreRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/restores":
			var req RestoreRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			submitted = append(submitted, req)
			writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": "batch-1", "job_id": "restore-batch-1", "job_type": "restore"})
		case r.URL.Path == "/api/v1/jobs/restore-batch-1":
			writeJSON(w, http.StatusOK, jobs.JobStatus{
				ID: "restore-batch-1", State: jobs.StateSuccess,
				Restore: &model.RestoreResult{BatchID: "batch-1", Completed: 2},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`api_url: `+srv.URL+`
api_key: tvk_test
restores:
  - target: tenants
    pairs:
      - tenant_id: t1
        backup_id: b1
      - tenant_id: t2
        backup_id: b2
`), 0o600))

	require.NoError(t, ApplyRestorePlan(context.Background(), path, 5*time.Second))
	require.Len(t, submitted, 1)
	assert.Equal(t, "tenants", submitted[0].Target)
	assert.Len(t, submitted[0].Pairs, 2)
}

func TestLoadRestorePlan_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "api_key: k\n", "no restores"},
		{"missing target", "restores:\n  - tenant_id: t1\n", "target is required"},
		{"bad as_of", "restores:\n  - target: all\n    as_of: yesterday\n", "as_of"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadRestorePlan(path)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}
