package web

import (
	"net/http"
	"strconv"
	"time"

	auditStore "rollcall/internal/adapters/storage/audit"
	"rollcall/internal/domain/audit"
)

// handleAuditTrail lists audit events (GET /admin/audit).
// Query filters: category, action, actor_id, resource_id, from, to (YYYY-MM-DD), limit.
// PRE: Session belongs to an admin
// POST: Returns matching events, newest first
func (s *Server) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := auditStore.Filter{
		Category:   audit.Category(q.Get("category")),
		Action:     audit.Action(q.Get("action")),
		ActorID:    q.Get("actor_id"),
		ResourceID: q.Get("resource_id"),
	}
	if v := q.Get("from"); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		filter.From = from
	}
	if v := q.Get("to"); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
		// inclusive of the whole day
		filter.To = to.Add(24*time.Hour - time.Nanosecond)
	}

	limit := auditStore.DefaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.deps.Stores.Audit.List(r.Context(), filter, limit)
	if err != nil {
		internalError(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
