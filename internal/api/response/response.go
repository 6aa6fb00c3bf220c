package response

import (
	"encoding/json"
	"net/http"

	"github.com/edvin/tenantvault/internal/catalog"
	"github.com/edvin/tenantvault/internal/errs"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindBusinessRule:
		if errs.CodeOf(err) == catalog.CodeDailyLimit {
			return http.StatusTooManyRequests
		}
		return http.StatusConflict
	case errs.KindStorageProvider:
		return http.StatusBadGateway
	case errs.KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err with the status its kind maps to.
func WriteServiceError(w http.ResponseWriter, err error) {
	WriteJSON(w, StatusFor(err), ErrorResponse{
		Error: err.Error(),
		Kind:  errs.KindOf(err).String(),
		Code:  errs.CodeOf(err),
	})
}

// ListResponse wraps a list with the limit it was fetched with.
type ListResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// WriteList writes a list response.
func WriteList(w http.ResponseWriter, items any, count, limit int) {
	WriteJSON(w, http.StatusOK, ListResponse{Items: items, Count: count, Limit: limit})
}
