package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/agriquest/authcore/internal/security/domain"
	"github.com/agriquest/authcore/internal/security/service"
	"github.com/agriquest/authcore/pkg/httpx"
	"github.com/agriquest/authcore/pkg/slogx"
)

const defaultAuditQueryLimit = 100

// AuditQueryHandler serves GET /v1/admin/audit/events. Admin only.
type AuditQueryHandler struct {
	Audit *service.AuditService
}

func (h *AuditQueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AuditFilter{
		ActorID:  q.Get("actor_id"),
		Category: domain.EventCategory(q.Get("category")),
		Severity: domain.Severity(q.Get("severity")),
		Limit:    defaultAuditQueryLimit,
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	events, err := h.Audit.Query(r.Context(), filter)
	if err != nil {
		slogx.FromContext(r.Context()).Error("audit query failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.Audit.LogAdminAction(r.Context(), httpx.UserIDFromContext(r.Context()), "audit_query", map[string]any{
		"results": len(events),
	})

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// SecurityReportHandler serves GET /v1/admin/audit/report. Admin only.
// Defaults to the trailing 24 hours when no window is given.
type SecurityReportHandler struct {
	Audit *service.AuditService
}

func (h *SecurityReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "from must be RFC3339")
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "to must be RFC3339")
			return
		}
		to = t
	}
	if !from.Before(to) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "from must be before to")
		return
	}

	report, err := h.Audit.SecurityReport(r.Context(), from, to)
	if err != nil {
		slogx.FromContext(r.Context()).Error("security report failed", "error", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.Audit.LogAdminAction(r.Context(), httpx.UserIDFromContext(r.Context()), "security_report", nil)

	httpx.WriteJSON(w, http.StatusOK, report)
}
