package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/verkstad/toolmgmt/internal/audit"
)

// recordAudit enqueues an audit entry (best-effort). A full queue drops the
// entry and the recorder logs a warning.
func (s *Server) recordAudit(action audit.Action, entityType, entityID, userID string, details map[string]any) {
	s.audit.Record(audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		UserID:     userID,
		Source:     audit.SourceAPI,
		Details:    details,
	})
}

// handleListAuditLogs returns paginated audit entries with optional filters.
//
// Query parameters:
//   - action: create, update, delete, assign, login, refresh
//   - entity_type: machine, tool, user, registry
//   - entity_id, user_id: exact match
//   - since, until: RFC 3339 timestamps
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUpstreamUnavailable(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     q.Get("user_id"),
	}

	for name, dst := range map[string]*time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = t
	}

	filter.Limit, filter.Offset = pageParams(r)

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// pageParams reads limit and offset. Invalid values are ignored and the
// repositories apply their defaults and caps.
func pageParams(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
