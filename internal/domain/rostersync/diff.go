package rostersync

import (
	"strings"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
	"rollcall/internal/domain/transition"
)

// Diff is the comparison of one matched member against its external record.
type Diff struct {
	SectionDelta int
	StageDelta   int
	IsRetired    bool
	IsLinking    bool
	FieldChanges map[string]FieldChange
	// RankErrors lists values the rank table did not know; they ranked lowest.
	RankErrors []*RankLookupError
}

// HasFieldChanges reports whether any compared field differs.
func (d Diff) HasFieldChanges() bool {
	return len(d.FieldChanges) > 0
}

// ComputeDiffs compares a matched member with its external record.
// latest is the member's current transition; nil means none is recorded and
// the member is treated as an invested member of local.Section.
// A field the roster leaves empty differs from a local value, so applying the
// change clears it locally.
// PRE: local was matched to ext
// POST: Returns rank deltas, lifecycle flags and field-level changes
func ComputeDiffs(local member.Member, ext roster.Record, latest *transition.Transition, ranks section.Ranks) Diff {
	var d Diff
	lookup := rankLookup{ranks: ranks}

	current := local.Section
	kind := section.StageMember
	if latest != nil {
		current = latest.Section
		kind = latest.Kind
		d.IsRetired = latest.Kind == section.StageRetired
		d.IsLinking = latest.Kind == section.StageLinking
	}

	d.SectionDelta = lookup.section(ext.Section) - lookup.section(current)
	d.StageDelta = lookup.stage(ext.DerivedStage()) - lookup.stage(kind)
	d.RankErrors = lookup.errs

	changes := make(map[string]FieldChange)
	if name := strings.TrimSpace(ext.Name); name != strings.TrimSpace(local.Name) {
		changes[FieldName] = FieldChange{From: local.Name, To: name}
	}
	if from, to := member.FormatDate(local.DateOfBirth), member.FormatDate(ext.DateOfBirth); from != to {
		changes[FieldDateOfBirth] = FieldChange{From: from, To: to}
	}
	if ext.MemberNumber != local.MemberNumber {
		changes[FieldMemberNumber] = FieldChange{From: local.MemberNumber, To: ext.MemberNumber}
	}
	if ext.ExternalID != local.ExternalID {
		changes[FieldExternalID] = FieldChange{From: local.ExternalID, To: ext.ExternalID}
	}
	// a member mid-linking still shows their old section externally
	if !d.IsLinking && ext.Section != local.Section {
		changes[FieldSection] = FieldChange{From: string(local.Section), To: string(ext.Section)}
	}
	d.FieldChanges = changes
	return d
}

// rankLookup ranks values and remembers each unknown one once.
type rankLookup struct {
	ranks section.Ranks
	errs  []*RankLookupError
}

func (l *rankLookup) section(s section.Section) int {
	rank, ok := l.ranks.Section(s)
	if !ok {
		l.note("section", string(s))
	}
	return rank
}

func (l *rankLookup) stage(st section.Stage) int {
	rank, ok := l.ranks.Stage(st)
	if !ok {
		l.note("stage", string(st))
	}
	return rank
}

func (l *rankLookup) note(table, value string) {
	for _, e := range l.errs {
		if e.Table == table && e.Value == value {
			return
		}
	}
	l.errs = append(l.errs, &RankLookupError{Table: table, Value: value})
}
