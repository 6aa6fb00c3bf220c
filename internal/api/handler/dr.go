package handler

import (
	"net/http"

	mw "github.com/edvin/tenantvault/internal/api/middleware"
	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/core"
)

type DR struct {
	svc *core.DRService
}

func NewDR(svc *core.DRService) *DR {
	return &DR{svc: svc}
}

func (h *DR) CreateBackup(w http.ResponseWriter, r *http.Request) {
	created, err := h.svc.CreatePlatformBackup(r.Context(), mw.Initiator(r.Context()))
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, created)
}

func (h *DR) Verify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `json:"limit" validate:"gte=0,lte=200"`
	}
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.svc.Verify(r.Context(), req.Limit)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusAccepted, job)
}

func (h *DR) Health(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Health(r.Context())
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, report)
}
