package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/core"
)

type Job struct {
	svc *core.JobService
}

func NewJob(svc *core.JobService) *Job {
	return &Job{svc: svc}
}

func (h *Job) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "jobID"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	st, err := h.svc.Status(r.Context(), id)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, st)
}
