package handler

import (
	"net/http"

	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/core"
	"github.com/edvin/tenantvault/internal/model"
)

type Storage struct {
	svc *core.StorageService
}

func NewStorage(svc *core.StorageService) *Storage {
	return &Storage{svc: svc}
}

func (h *Storage) Usage(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.svc.Usage())
}

// Health pings both providers. A reply is always 200; availability is
// reported per provider.
func (h *Storage) Health(w http.ResponseWriter, r *http.Request) {
	response.WriteJSON(w, http.StatusOK, h.svc.Health(r.Context()))
}

func (h *Storage) SetFailoverStrategy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Strategy string `json:"strategy" validate:"required,oneof=PRIMARY_ONLY SECONDARY_FALLBACK DUAL_UPLOAD"`
	}
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	strategy, _ := model.ParseFailoverStrategy(req.Strategy)

	if err := h.svc.SetFailoverStrategy(r.Context(), strategy); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"strategy": string(strategy)})
}

func (h *Storage) ResetUsage(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ResetUsage(r.Context()); err != nil {
		response.WriteServiceError(w, err)
		return
	}

	response.WriteJSON(w, http.StatusOK, h.svc.Usage())
}
