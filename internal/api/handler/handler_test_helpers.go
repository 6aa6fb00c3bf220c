package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	mw "github.com/edvin/tenantvault/internal/api/middleware"
	"github.com/edvin/tenantvault/internal/artifact"
	"github.com/edvin/tenantvault/internal/backoff"
	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/catalog/catalogtest"
	"github.com/edvin/tenantvault/internal/core"
	"github.com/edvin/tenantvault/internal/dr"
	"github.com/edvin/tenantvault/internal/jobs"
	"github.com/edvin/tenantvault/internal/model"
	"github.com/edvin/tenantvault/internal/restore"
	"github.com/edvin/tenantvault/internal/selfservice"
	"github.com/edvin/tenantvault/internal/storage"
	"github.com/edvin/tenantvault/internal/storage/storagetest"
	"github.com/edvin/tenantvault/internal/tenantdata/tenantdatatest"
)

// newRequest creates a new HTTP request with an optional JSON body.
func newRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

// newRequestRaw creates a new HTTP request with a raw string body.
func newRequestRaw(method, target, body string) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}

// withChiURLParam adds a chi URL parameter to the request context.
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withChiURLParams adds several chi URL parameters, given as key/value pairs.
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// withIdentity injects an authenticated API key into the request context.
func withIdentity(r *http.Request) *http.Request {
	identity := &mw.APIKeyIdentity{ID: "test-key", Name: "ops", Scopes: []string{"*"}}
	ctx := context.WithValue(r.Context(), mw.APIKeyIdentityKey, identity)
	return r.WithContext(ctx)
}

// decodeErrorResponse parses the JSON error response body into a map.
func decodeErrorResponse(rec *httptest.ResponseRecorder) map[string]string {
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	return body
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// testStack is the service layer over in-memory providers, catalog and
// tenant data, with the in-process job queue.
type testStack struct {
	svc       *core.Services
	catalog   *catalogtest.Memory
	data      *tenantdatatest.Memory
	primary   *storagetest.Memory
	secondary *storagetest.Memory
	queue     *jobs.Local
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	data := tenantdatatest.NewMemory("customers", "invoices")
	for i, id := range []string{"t1", "t2"} {
		data.AddTenant(id)
		data.Insert(id, "customers", map[string]any{"id": i + 1, "name": "customer-" + id})
	}

	primary := storagetest.NewMemory("s3")
	secondary := storagetest.NewMemory("gcs")
	gw := storage.NewGateway(primary, secondary, storage.Options{Strategy: model.StrategyDualUpload, Logger: zerolog.Nop()})
	cat := catalogtest.NewMemory()
	staging := t.TempDir()
	retry := backoff.Policy{MaxAttempts: 1, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	logger := zerolog.Nop()

	runner := backup.NewRunner(cat, artifact.NewBuilder(data, staging, logger), gw, retry, logger)
	orch := restore.NewOrchestrator(cat, data, gw, staging, retry, logger)
	coord := dr.NewCoordinator(cat, runner, orch, gw, logger)
	self := selfservice.NewService(cat, runner, gw, data, selfservice.Config{LocalDir: t.TempDir()}, logger)

	queue := jobs.NewLocal(core.NewJobRunner(runner, orch, coord, self), 2, logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	queue.Start(ctx)

	return &testStack{
		svc: core.NewServices(core.Deps{
			Catalog:      cat,
			Gateway:      gw,
			Runner:       runner,
			Orchestrator: orch,
			Coordinator:  coord,
			SelfService:  self,
			Queue:        queue,
			Logger:       logger,
		}),
		catalog:   cat,
		data:      data,
		primary:   primary,
		secondary: secondary,
		queue:     queue,
	}
}

func (s *testStack) wait(t *testing.T, jobID string) *jobs.JobStatus {
	t.Helper()
	h, err := jobs.NewJobHandle(s.queue, jobID)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := h.Wait(ctx, 5*time.Millisecond)
	require.NoError(t, err)
	return st
}

// completedBackup runs a tenant backup through the queue.
func (s *testStack) completedBackup(t *testing.T, tenantID string) *model.BackupRecord {
	t.Helper()
	created, err := s.svc.Backup.Create(context.Background(), core.CreateBackupRequest{
		Scope: model.ScopeTenant, TenantID: tenantID, InitiatedBy: "test",
	})
	require.NoError(t, err)
	st := s.wait(t, created.JobID)
	require.Equal(t, jobs.StateSuccess, st.State, st.Error)
	b, err := s.svc.Backup.Get(context.Background(), created.Backup.ID)
	require.NoError(t, err)
	return b
}
