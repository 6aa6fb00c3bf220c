package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/edvin/tenantvault/internal/api/request"
	"github.com/edvin/tenantvault/internal/api/response"
	"github.com/edvin/tenantvault/internal/core"
)

// AuditLog represents an audit log entry.
type AuditLog struct {
	ID           string          `json:"id"`
	APIKeyID     *string         `json:"api_key_id,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	ResourceType *string         `json:"resource_type,omitempty"`
	ResourceID   *string         `json:"resource_id,omitempty"`
	StatusCode   int             `json:"status_code"`
	RequestBody  json.RawMessage `json:"request_body,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Audit struct {
	db core.DB
}

func NewAudit(db core.DB) *Audit {
	return &Audit{db: db}
}

// List returns audit entries newest first, filtered by resource_type,
// action (HTTP method) and an RFC 3339 date_from/date_to range.
func (h *Audit) List(w http.ResponseWriter, r *http.Request) {
	limit := request.ParseLimit(r)
	dateFrom, err := request.ParseTime(r, "date_from")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	dateTo, err := request.ParseTime(r, "date_to")
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	query := `SELECT id, api_key_id, method, path, resource_type, resource_id, status_code, request_body, created_at
              FROM audit_logs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if resourceType := r.URL.Query().Get("resource_type"); resourceType != "" {
		query += fmt.Sprintf(` AND resource_type = $%d`, argIdx)
		args = append(args, resourceType)
		argIdx++
	}
	if action := r.URL.Query().Get("action"); action != "" {
		query += fmt.Sprintf(` AND method = $%d`, argIdx)
		args = append(args, action)
		argIdx++
	}
	if dateFrom != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *dateFrom)
		argIdx++
	}
	if dateTo != nil {
		query += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *dateTo)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := h.db.Query(r.Context(), query, args...)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer rows.Close()

	logs := []AuditLog{}
	for rows.Next() {
		var l AuditLog
		if err := rows.Scan(&l.ID, &l.APIKeyID, &l.Method, &l.Path, &l.ResourceType, &l.ResourceID, &l.StatusCode, &l.RequestBody, &l.CreatedAt); err != nil {
			response.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteList(w, logs, len(logs), limit)
}
