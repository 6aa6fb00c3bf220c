package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/edvin/tenantvault/internal/api/middleware"
	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/core"
)

type Backup struct {
	svc *core.BackupService
}

func NewBackup(svc *core.BackupService) *Backup {
	return &Backup{svc: svc}
}

type createBackupRequest struct {
	Scope    string `json:"scope" validate:"required,oneof=tenant platform"`
	TenantID string `json:"tenant_id" validate:"required_if=Scope tenant,excluded_if=Scope platform"`
}

func (h *Backup) Create(w http.ResponseWriter, r *http.Request) {
	var req createBackupRequest
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), core.CreateBackupRequest{
		Scope:       req.Scope,
		TenantID:    req.TenantID,
		InitiatedBy: mw.Initiator(r.Context()),
	})
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, created)
}

func (h *Backup) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.BackupFilter{
		Scope:           q.Get("scope"),
		TenantID:        q.Get("tenant_id"),
		IncludePlatform: request.ParseBool(r, "include_platform"),
		Status:          q.Get("status"),
		Provider:        q.Get("provider"),
		Origin:          q.Get("origin"),
		IncludePurged:   request.ParseBool(r, "include_purged"),
	}
	var err error
	if filter.CreatedAfter, err = request.ParseTime(r, "created_after"); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.CreatedBefore, err = request.ParseTime(r, "created_before"); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := request.ParseLimit(r)
	backups, err := h.svc.List(r.Context(), filter, limit)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteList(w, backups, len(backups), limit)
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.svc.Get(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, b)
}

func (h *Backup) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	b, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, b)
}

func (h *Backup) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Provider string `json:"provider" validate:"omitempty,oneof=primary secondary"`
	}
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.svc.Verify(r.Context(), id, req.Provider)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, res)
}
