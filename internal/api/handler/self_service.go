package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/core"
)

type SelfService struct {
	svc *core.SelfServiceService
}

func NewSelfService(svc *core.SelfServiceService) *SelfService {
	return &SelfService{svc: svc}
}

// Create starts a tenant's self-service backup. The download token is
// part of the job result once the backup completes.
func (h *SelfService) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, err := request.RequireID(chi.URLParam(r, "tenantID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		UserID string `json:"user_id" validate:"required"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.svc.Create(r.Context(), tenantID, req.UserID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, created)
}

func (h *SelfService) Limit(w http.ResponseWriter, r *http.Request) {
	tenantID, err := request.RequireID(chi.URLParam(r, "tenantID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, err := h.svc.CheckDailyLimit(r.Context(), tenantID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, limit)
}

// ReissueToken mints a new download token for a completed backup.
func (h *SelfService) ReissueToken(w http.ResponseWriter, r *http.Request) {
	tenantID, err := request.RequireID(chi.URLParam(r, "tenantID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	backupID, err := request.RequireID(chi.URLParam(r, "backupID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	tok, err := h.svc.ReissueToken(r.Context(), tenantID, backupID)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, tok)
}

func (h *SelfService) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OlderThanDays *int `json:"older_than_days" validate:"required,gte=0"`
		DeleteRecords bool `json:"delete_records"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.Cleanup(r.Context(), *req.OlderThanDays, req.DeleteRecords)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, job)
}

// Download streams the artifact a download token grants. The token is the
// only credential.
func (h *SelfService) Download(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	dl, err := h.svc.Download(r.Context(), token)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", dl.Filename))
	w.Header().Set("X-Checksum-Sha256", dl.Backup.Checksum)
	if dl.Backup.CompressedSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Backup.CompressedSize, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("backup_id", dl.Backup.ID).Msg("download interrupted")
	}
}
