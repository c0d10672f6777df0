package web

import (
	"database/sql"
	"errors"
	"net/http"

	"rollcall/internal/application/listutil"
	"rollcall/internal/application/projections"
)

// handleUnitMembers lists a unit's local members (GET /admin/members?unit=ID).
// Supports q, section, stage, sort, dir, page and per_page.
func (s *Server) handleUnitMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := projections.QueryGetUnitMembers(r.Context(), projections.GetUnitMembersQuery{
		UnitID:     q.Get("unit"),
		ListParams: listutil.ParseListParams(q, projections.UnitMemberSortColumns, projections.UnitMemberFilterKeys),
	}, projections.GetUnitMembersDeps{
		MemberStore:     s.deps.Stores.Members,
		TransitionStore: s.deps.Stores.Transitions,
		Ranks:           s.deps.Reconciler.Ranks(),
	})
	if errors.Is(err, projections.ErrUnitRequired) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleMemberHistory returns one member and their transitions (GET /admin/members/{id}).
func (s *Server) handleMemberHistory(w http.ResponseWriter, r *http.Request) {
	res, err := projections.QueryGetMemberHistory(r.Context(), projections.GetMemberHistoryQuery{
		MemberID: r.PathValue("id"),
	}, projections.GetMemberHistoryDeps{
		MemberStore:     s.deps.Stores.Members,
		TransitionStore: s.deps.Stores.Transitions,
		Ranks:           s.deps.Reconciler.Ranks(),
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "member not found")
		return
	case err != nil:
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
