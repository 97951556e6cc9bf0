package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/1314ysys/WebTerminalTool/internal/audit"
)

// GetAuditLogs returns paginated session audit log entries.
//
// Query parameters:
//
//	session_id - filter by session id
//	event_type - filter by event type
//	protocol   - filter by protocol
//	username   - filter by username
//	since      - RFC3339 timestamp, only entries after this time
//	until      - RFC3339 timestamp, only entries before this time
//	limit      - max entries to return (default 50, max 1000)
//	offset     - pagination offset
func (h *Handler) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, "Audit system not initialized")
		return
	}

	q := r.URL.Query()
	opts := audit.QueryOptions{
		SessionID: q.Get("session_id"),
		EventType: q.Get("event_type"),
		Protocol:  q.Get("protocol"),
		Username:  q.Get("username"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	entries, total, err := h.Auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "Failed to query audit logs")
		return
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
		"limit":   limit,
		"offset":  opts.Offset,
	})
}

// PurgeAuditLogs deletes entries older than the days query parameter, or
// the configured retention period when it is omitted.
func (h *Handler) PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, kindUnavailable, "Audit system not initialized")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "Invalid days parameter")
			return
		}
		days = n
	}

	deleted, err := h.Auditor.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "Failed to purge audit logs")
		return
	}
	if days == 0 {
		days = h.Auditor.RetentionDays()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        deleted,
		"retention_days": days,
	})
}
