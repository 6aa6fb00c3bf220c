package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/core"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
)

func TestSelfServiceCreate_MissingUser(t *testing.T) {
	h := NewSelfService(nil)
	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/tenants/t1/self-service-backups", map[string]any{}), "tenantID", "t1")

	h.Create(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSelfService_CreateLimitAndDownload(t *testing.T) {
	s := newTestStack(t)
	h := NewSelfService(s.svc.SelfService)
	create := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := withChiURLParam(newRequest(http.MethodPost, "/tenants/t1/self-service-backups", map[string]any{"user_id": "u1"}), "tenantID", "t1")
		h.Create(rec, r)
		return rec
	}

	rec := httptest.NewRecorder()
	h.Limit(rec, withChiURLParam(newRequest(http.MethodGet, "/tenants/t1/self-service-backups/limit", nil), "tenantID", "t1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var limit core.DailyLimit
	decodeJSON(t, rec, &limit)
	assert.True(t, limit.Allowed)

	rec = create()
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created core.CreatedBackup
	decodeJSON(t, rec, &created)
	assert.Equal(t, jobs.TypeSelfServiceBackup, created.Type)

	st := s.wait(t, created.JobID)
	require.Equal(t, jobs.StateSuccess, st.State, st.Error)
	require.NotNil(t, st.Backup)
	token := st.Backup.DownloadToken
	require.NotEmpty(t, token)

	rec = create()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "daily_limit", decodeErrorResponse(rec)["code"])

	rec = httptest.NewRecorder()
	h.Download(rec, withChiURLParam(httptest.NewRequest(http.MethodGet, "/downloads/"+token, nil), "token", token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))
	_, ok, err := artifact.Verify(rec.Body, st.Backup.Checksum)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSelfServiceReissueToken(t *testing.T) {
	s := newTestStack(t)
	h := NewSelfService(s.svc.SelfService)

	created, err := s.svc.SelfService.Create(context.Background(), "t1", "u1")
	require.NoError(t, err)
	st := s.wait(t, created.JobID)
	require.Equal(t, jobs.StateSuccess, st.State, st.Error)
	id := st.Backup.BackupID

	rec := httptest.NewRecorder()
	h.ReissueToken(rec, withChiURLParams(newRequest(http.MethodPost, "/tenants/t1/self-service-backups/"+id+"/download-token", nil),
		"tenantID", "t1", "backupID", id))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tok model.DownloadToken
	decodeJSON(t, rec, &tok)
	assert.NotEmpty(t, tok.Token)
	assert.NotEqual(t, st.Backup.DownloadToken, tok.Token)
	assert.Equal(t, id, tok.BackupID)

	rec = httptest.NewRecorder()
	h.ReissueToken(rec, withChiURLParams(newRequest(http.MethodPost, "/tenants/t2/self-service-backups/"+id+"/download-token", nil),
		"tenantID", "t2", "backupID", id))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelfServiceDownload_UnknownToken(t *testing.T) {
	s := newTestStack(t)
	h := NewSelfService(s.svc.SelfService)
	rec := httptest.NewRecorder()

	h.Download(rec, withChiURLParam(httptest.NewRequest(http.MethodGet, "/downloads/nope", nil), "token", "nope"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSelfServiceCleanup(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing days", map[string]any{}, http.StatusBadRequest},
		{"negative days", map[string]any{"older_than_days": -1}, http.StatusBadRequest},
		{"accepted", map[string]any{"older_than_days": 7, "delete_records": true}, http.StatusAccepted},
		{"zero days", map[string]any{"older_than_days": 0}, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStack(t)
			h := NewSelfService(s.svc.SelfService)
			rec := httptest.NewRecorder()

			h.Cleanup(rec, newRequest(http.MethodPost, "/self-service/cleanup", tt.body))

			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code == http.StatusAccepted {
				var job core.CreatedJob
				decodeJSON(t, rec, &job)
				st := s.wait(t, job.JobID)
				assert.Equal(t, jobs.StateSuccess, st.State, st.Error)
				assert.NotNil(t, st.Cleanup)
			}
		})
	}
}
