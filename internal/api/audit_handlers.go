package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/keepsakehq/keepsake/internal/audit"
	"github.com/keepsakehq/keepsake/internal/middleware"
	"github.com/keepsakehq/keepsake/internal/session"
)

// AuditHandler serves the admin audit-export endpoint.
type AuditHandler struct {
	reader audit.Reader
	logger *slog.Logger
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(reader audit.Reader, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{
		reader: reader,
		logger: logger,
	}
}

// Export handles GET /v1/audit/export?partition=YYYYMMDD&format=csv|json.
// Optional query parameters: event (filter by event tag), limit.
// Restricted to admin sessions.
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r.Context())
	if principal == nil {
		writeErrorCode(w, r, http.StatusUnauthorized, ErrCodeUnauthenticated, "A valid session token is required")
		return
	}
	if principal.Role != session.RoleAdmin {
		writeErrorCode(w, r, http.StatusForbidden, ErrCodeForbidden, "Admin role is required")
		return
	}

	partition := r.URL.Query().Get("partition")
	if partition == "" {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "partition is required (YYYYMMDD)")
		return
	}

	format := audit.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = audit.ExportFormatJSON
	}
	if format != audit.ExportFormatCSV && format != audit.ExportFormatJSON {
		writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "format must be csv or json")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeErrorCode(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	data, err := audit.Export(r.Context(), h.reader, audit.ExportOptions{
		Format:    format,
		Partition: partition,
		Event:     r.URL.Query().Get("event"),
		Limit:     limit,
	})
	if err != nil {
		h.logger.Error("audit export failed", "partition", partition, "error", err)
		writeErrorCode(w, r, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}

	if format == audit.ExportFormatCSV {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-"+partition+".csv")
	} else {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Error("failed to write export response", "error", err)
	}
}
