package projections

import (
	"context"
	"errors"
	"slices"
	"time"

	domainMember "rollcall/internal/domain/member"
	"rollcall/internal/domain/section"
	domainTransition "rollcall/internal/domain/transition"
)

// ErrMemberRequired is returned when a history query names no member.
var ErrMemberRequired = errors.New("member id is required")

// GetMemberHistoryQuery carries query parameters.
type GetMemberHistoryQuery struct {
	MemberID string
}

// HistoryEntry is one transition in a member's lifecycle log.
type HistoryEntry struct {
	ID      string          `json:"id"`
	Kind    section.Stage   `json:"kind"`
	Section section.Section `json:"section"`
	Date    time.Time       `json:"date"`
	Notes   string          `json:"notes,omitempty"`
	Current bool            `json:"current"`
}

// GetMemberHistoryResult carries a member and their transitions, newest first.
type GetMemberHistoryResult struct {
	ID           string          `json:"id"`
	UnitID       string          `json:"unit_id"`
	ExternalID   string          `json:"external_id,omitempty"`
	Name         string          `json:"name"`
	DateOfBirth  string          `json:"date_of_birth,omitempty"`
	Section      section.Section `json:"section"`
	MemberNumber string          `json:"member_number,omitempty"`
	History      []HistoryEntry  `json:"history"`
}

// GetMemberHistoryDeps holds dependencies for GetMemberHistory.
type GetMemberHistoryDeps struct {
	MemberStore     MemberStore
	TransitionStore TransitionStore
	Ranks           section.Ranks
}

// QueryGetMemberHistory loads a member and their full transition log.
// PRE: MemberID is non-empty
// POST: History is ordered as transition.Latest ranks it; exactly one entry
// is marked current when any exist
func QueryGetMemberHistory(ctx context.Context, query GetMemberHistoryQuery, deps GetMemberHistoryDeps) (GetMemberHistoryResult, error) {
	if query.MemberID == "" {
		return GetMemberHistoryResult{}, ErrMemberRequired
	}
	m, err := deps.MemberStore.GetByID(ctx, query.MemberID)
	if err != nil {
		return GetMemberHistoryResult{}, err
	}
	ts, err := deps.TransitionStore.ListByMember(ctx, query.MemberID)
	if err != nil {
		return GetMemberHistoryResult{}, err
	}

	// repeatedly taking Latest gives the same order the reconciler uses
	ordered := make([]domainTransition.Transition, 0, len(ts))
	rest := slices.Clone(ts)
	for len(rest) > 0 {
		top, _ := domainTransition.Latest(rest, deps.Ranks)
		ordered = append(ordered, top)
		rest = slices.DeleteFunc(rest, func(t domainTransition.Transition) bool { return t.ID == top.ID })
	}

	res := GetMemberHistoryResult{
		ID:           m.ID,
		UnitID:       m.UnitID,
		ExternalID:   m.ExternalID,
		Name:         m.Name,
		DateOfBirth:  domainMember.FormatDate(m.DateOfBirth),
		Section:      m.Section,
		MemberNumber: m.MemberNumber,
		History:      make([]HistoryEntry, 0, len(ordered)),
	}
	for i, t := range ordered {
		res.History = append(res.History, HistoryEntry{
			ID: t.ID, Kind: t.Kind, Section: t.Section, Date: t.Date, Notes: t.Notes, Current: i == 0,
		})
	}
	return res, nil
}
