package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/core"
	"github.com/edvin/tenantvault/internal/model"
)

type APIKey struct {
	svc *core.APIKeyService
}

func NewAPIKey(svc *core.APIKeyService) *APIKey {
	return &APIKey{svc: svc}
}

// createdAPIKey carries the plain key, shown exactly once.
type createdAPIKey struct {
	*model.APIKey
	Key string `json:"key"`
}

func (h *APIKey) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name" validate:"required,slug"`
		Scopes []string `json:"scopes"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Scopes) == 0 {
		req.Scopes = []string{"*"}
	}

	key, raw, err := h.svc.Create(r.Context(), req.Name, req.Scopes)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusCreated, createdAPIKey{APIKey: key, Key: raw})
}

func (h *APIKey) List(w http.ResponseWriter, r *http.Request) {
	limit := request.ParseLimit(r)
	keys, err := h.svc.List(r.Context(), limit)
	if err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteList(w, keys, len(keys), limit)
}

func (h *APIKey) Revoke(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Revoke(r.Context(), id); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
