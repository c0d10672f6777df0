package projections

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"rollcall/internal/application/listutil"
	domainMember "rollcall/internal/domain/member"
	"rollcall/internal/domain/section"
	domainTransition "rollcall/internal/domain/transition"
)

// Sort columns and filter keys accepted by QueryGetUnitMembers.
var (
	UnitMemberSortColumns = []string{"name", "section", "date_of_birth", "stage", "since"}
	UnitMemberFilterKeys  = []string{"section", "stage"}
)

// ErrUnitRequired is returned when a query names no unit.
var ErrUnitRequired = errors.New("unit id is required")

// GetUnitMembersQuery carries query parameters.
type GetUnitMembersQuery struct {
	UnitID string
	listutil.ListParams
}

// UnitMember is one local member with their current lifecycle state.
// Stage is empty for members without any recorded transition.
type UnitMember struct {
	ID           string          `json:"id"`
	ExternalID   string          `json:"external_id,omitempty"`
	Name         string          `json:"name"`
	DateOfBirth  string          `json:"date_of_birth,omitempty"`
	Section      section.Section `json:"section"`
	MemberNumber string          `json:"member_number,omitempty"`
	Stage        section.Stage   `json:"stage,omitempty"`
	Since        *time.Time      `json:"since,omitempty"`
}

// GetUnitMembersResult carries one page of the unit roster.
type GetUnitMembersResult struct {
	UnitID   string            `json:"unit_id"`
	Members  []UnitMember      `json:"members"`
	Page     listutil.PageInfo `json:"page"`
	Warnings []string          `json:"warnings,omitempty"`
}

// GetUnitMembersDeps holds dependencies for GetUnitMembers.
type GetUnitMembersDeps struct {
	MemberStore     MemberStore
	TransitionStore TransitionStore
	Ranks           section.Ranks
}

// QueryGetUnitMembers lists a unit's local members with their current stage.
// Search matches case-insensitively anywhere in the name, member number or
// external id. The current stage and section come from transition.Latest.
// PRE: UnitID is non-empty
// POST: Returns the requested page; stored rows that could not be read become warnings
func QueryGetUnitMembers(ctx context.Context, query GetUnitMembersQuery, deps GetUnitMembersDeps) (GetUnitMembersResult, error) {
	if strings.TrimSpace(query.UnitID) == "" {
		return GetUnitMembersResult{}, ErrUnitRequired
	}
	members, bad, err := deps.MemberStore.ListByUnit(ctx, query.UnitID)
	if err != nil {
		return GetUnitMembersResult{}, err
	}
	transitions, err := deps.TransitionStore.ListByUnit(ctx, query.UnitID)
	if err != nil {
		return GetUnitMembersResult{}, err
	}
	latest := domainTransition.LatestByMember(transitions, deps.Ranks)

	search := domainMember.NormalizeName(query.Search)
	rows := make([]UnitMember, 0, len(members))
	for _, m := range members {
		row := UnitMember{
			ID:           m.ID,
			ExternalID:   m.ExternalID,
			Name:         m.Name,
			DateOfBirth:  m.BirthDate(),
			Section:      m.Section,
			MemberNumber: m.MemberNumber,
		}
		if t, ok := latest[m.ID]; ok {
			row.Stage = t.Kind
			if t.Section != "" {
				row.Section = t.Section
			}
			since := t.Date
			row.Since = &since
		}
		if !matches(row, search, query.Filters) {
			continue
		}
		rows = append(rows, row)
	}

	sortUnitMembers(rows, query.SortParams, deps.Ranks)
	page := listutil.NewPageInfo(query.Page, query.PerPage, len(rows))

	res := GetUnitMembersResult{
		UnitID:  query.UnitID,
		Members: listutil.Page(rows, page),
		Page:    page,
	}
	for _, b := range bad {
		res.Warnings = append(res.Warnings, b.Error())
	}
	return res, nil
}

func matches(row UnitMember, search string, filters map[string]string) bool {
	if v, ok := filters["section"]; ok && row.Section != section.Normalize(v) {
		return false
	}
	if v, ok := filters["stage"]; ok && !strings.EqualFold(string(row.Stage), strings.TrimSpace(v)) {
		return false
	}
	if search == "" {
		return true
	}
	return strings.Contains(domainMember.NormalizeName(row.Name), search) ||
		strings.EqualFold(row.MemberNumber, search) ||
		strings.EqualFold(row.ExternalID, search)
}

// sortUnitMembers orders rows by the requested column, then by name and id.
// Sections and stages sort by rank, not alphabetically.
func sortUnitMembers(rows []UnitMember, sp listutil.SortParams, ranks section.Ranks) {
	byName := func(a, b UnitMember) int {
		return cmp.Or(
			cmp.Compare(domainMember.NormalizeName(a.Name), domainMember.NormalizeName(b.Name)),
			cmp.Compare(a.ID, b.ID),
		)
	}
	slices.SortStableFunc(rows, func(a, b UnitMember) int {
		var c int
		switch sp.Sort {
		case "section":
			ar, _ := ranks.Section(a.Section)
			br, _ := ranks.Section(b.Section)
			c = cmp.Compare(ar, br)
		case "stage":
			ar, _ := ranks.Stage(a.Stage)
			br, _ := ranks.Stage(b.Stage)
			c = cmp.Compare(ar, br)
		case "date_of_birth":
			c = cmp.Compare(a.DateOfBirth, b.DateOfBirth)
		case "since":
			c = compareSince(a.Since, b.Since)
		}
		if sp.Desc() {
			c = -c
		}
		return cmp.Or(c, byName(a, b))
	})
}

func compareSince(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}
