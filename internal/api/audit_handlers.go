// Package api provides HTTP handlers for audit trail queries.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/opencampus/campus/internal/audit"
	"github.com/opencampus/campus/internal/middleware"
)

// defaultQueryLimit bounds audit queries when no limit parameter is given.
const defaultQueryLimit = 100

// maxQueryLimit is the largest page an audit query will return.
const maxQueryLimit = 1000

// AuditHandlers exposes read access to the audit trail for administrators.
type AuditHandlers struct {
	repo audit.Repository
}

// NewAuditHandlers creates a new AuditHandlers instance.
func NewAuditHandlers(repo audit.Repository) *AuditHandlers {
	return &AuditHandlers{repo: repo}
}

// QueryByUser handles GET /api/v1/audit/users/{id}.
func (h *AuditHandlers) QueryByUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	userID := strings.TrimPrefix(r.URL.Path, "/api/v1/audit/users/")
	if userID == "" || strings.Contains(userID, "/") {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "user ID is required")
		return
	}
	middleware.SetResourceID(r.Context(), userID)

	records, err := h.repo.QueryByUser(r.Context(), userID, parseLimit(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "audit query by user failed", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Audit query failed")
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"records": records})
}

// QueryByResource handles GET /api/v1/audit/resources/{resource}/{id}.
func (h *AuditHandlers) QueryByResource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/audit/resources/"), "/")
	if len(pathParts) != 2 || pathParts[0] == "" || pathParts[1] == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "resource and ID are required")
		return
	}
	resource, resourceID := pathParts[0], pathParts[1]
	middleware.SetResourceID(r.Context(), resourceID)

	records, err := h.repo.QueryByResource(r.Context(), resource, resourceID, parseLimit(r))
	if err != nil {
		slog.ErrorContext(r.Context(), "audit query by resource failed", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Audit query failed")
		return
	}

	WriteJSON(w, r.Context(), http.StatusOK, map[string]any{"records": records})
}

// parseLimit reads the optional limit query parameter, clamped to maxQueryLimit.
func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultQueryLimit
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultQueryLimit
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}
