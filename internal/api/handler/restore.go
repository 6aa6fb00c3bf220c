package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/tenantvault/internal/api/middleware"
	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/core"
	"github.com/edvin/tenantvault/internal/restore"
)

type Restore struct {
	svc *core.RestoreService
}

func NewRestore(svc *core.RestoreService) *Restore {
	return &Restore{svc: svc}
}

type createRestoreRequest struct {
	Target         string         `json:"target" validate:"required,oneof=tenant tenants all"`
	TenantID       string         `json:"tenant_id" validate:"required_if=Target tenant"`
	BackupID       string         `json:"backup_id" validate:"required_if=Target tenant"`
	Pairs          []restore.Pair `json:"pairs" validate:"required_if=Target tenants,dive"`
	AsOf           *time.Time     `json:"as_of"`
	SkipValidation bool           `json:"skip_validation"`
}

func (h *Restore) Create(w http.ResponseWriter, r *http.Request) {
	var req createRestoreRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), core.CreateRestoreRequest{
		Target:         req.Target,
		TenantID:       req.TenantID,
		BackupID:       req.BackupID,
		Pairs:          req.Pairs,
		AsOf:           req.AsOf,
		SkipValidation: req.SkipValidation,
		InitiatedBy:    mw.Initiator(r.Context()),
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, created)
}

func (h *Restore) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.RestoreFilter{
		TenantID: q.Get("tenant_id"),
		BatchID:  q.Get("batch_id"),
		BackupID: q.Get("backup_id"),
		Status:   q.Get("status"),
	}

	limit := request.ParseLimit(r)
	restores, err := h.svc.List(r.Context(), filter, limit)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteList(w, restores, len(restores), limit)
}

func (h *Restore) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, rec)
}

// RestorePoints lists the completed backups a tenant can be restored from.
// An empty provider query parameter matches either provider.
func (h *Restore) RestorePoints(w http.ResponseWriter, r *http.Request) {
	tenantID, err := request.RequireID(chi.URLParam(r, "tenantID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	provider := r.URL.Query().Get("provider")

	limit := request.ParseLimit(r)
	points, err := h.svc.RestorePoints(r.Context(), tenantID, provider, limit)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteList(w, points, len(points), limit)
}
