package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/claudeck/claudeck/pkg/audit"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditHandler exposes read access to the audit trail. Admin only.
type AuditHandler struct {
	audit *audit.Recorder
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{audit: recorder}
}

// List handles GET /api/audit.
// Query parameters: limit, user, resource_type + resource_id (paired).
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseLimit(q.Get("limit"))

	if userID := q.Get("user"); userID != "" {
		since := time.Now().Add(-30 * 24 * time.Hour)
		entries, err := h.audit.ForUser(r.Context(), userID, since, limit)
		if err != nil {
			InternalServerError(w, "Failed to query audit trail")
			return
		}
		WriteJSONOK(w, entries)
		return
	}

	if resourceType := q.Get("resource_type"); resourceType != "" {
		entries, err := h.audit.ForResource(r.Context(), resourceType, q.Get("resource_id"), limit)
		if err != nil {
			InternalServerError(w, "Failed to query audit trail")
			return
		}
		WriteJSONOK(w, entries)
		return
	}

	entries, err := h.audit.Recent(r.Context(), limit)
	if err != nil {
		InternalServerError(w, "Failed to query audit trail")
		return
	}
	WriteJSONOK(w, entries)
}

// Activity handles GET /api/audit/activity.
// Returns per-action counters over the last 24 hours.
func (h *AuditHandler) Activity(w http.ResponseWriter, r *http.Request) {
	counts, err := h.audit.ActivityCounts(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		InternalServerError(w, "Failed to query audit trail")
		return
	}
	WriteJSONOK(w, counts)
}

func parseLimit(raw string) int {
	if raw == "" {
		return defaultAuditLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultAuditLimit
	}
	if n > maxAuditLimit {
		return maxAuditLimit
	}
	return n
}
