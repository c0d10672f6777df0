package rostersync

import (
	"errors"
	"strings"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
	"rollcall/internal/domain/transition"
)

// Reconciler builds sync plans against a fixed rank table.
// It holds no other state; one Reconciler may be shared freely.
type Reconciler struct {
	ranks section.Ranks
}

// New creates a Reconciler using ranks for section and stage comparisons.
func New(ranks section.Ranks) *Reconciler {
	return &Reconciler{ranks: ranks}
}

// Ranks returns the rank table the reconciler compares with.
func (r *Reconciler) Ranks() section.Ranks {
	return r.ranks
}

// BuildPlan classifies every external record against the local population.
// latest maps a member ID to that member's current transition, already selected
// with transition.Latest; members without an entry have no recorded transition.
//
// Bad rows are reported as diagnostics and never stop the batch. Entries and
// diagnostics follow the order of external.
// PRE: locals is one unit's population; latest holds one transition per member
// POST: Returns the plan and per-record diagnostics; inputs are not modified
// INVARIANT: Identical inputs always produce identical results
func (r *Reconciler) BuildPlan(external []roster.Record, locals []member.Member, latest map[string]transition.Transition) Result {
	var res Result

	usable := make([]member.Member, 0, len(locals))
	for _, m := range locals {
		if strings.TrimSpace(m.ID) == "" {
			res.Diagnostics = append(res.Diagnostics, errorDiagnostic(0, &roster.MalformedRecordError{
				Source: roster.SourceLocal, ExternalID: m.ExternalID, Field: "id", Reason: "is required",
			}))
			continue
		}
		usable = append(usable, m)
	}
	pop := newPopulation(usable)

	for i, rec := range external {
		row := i + 1
		rec.Section = section.Normalize(string(rec.Section))

		if err := rec.Validate(); err != nil {
			var mr *roster.MalformedRecordError
			if errors.As(err, &mr) {
				mr.Row = row
			}
			res.Diagnostics = append(res.Diagnostics, errorDiagnostic(row, err))
			continue
		}

		idx, _, err := pop.match(rec)
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind: DiagnosticSkip, Row: row, ExternalID: rec.ExternalID, Name: rec.Name,
				Reason: ReasonAmbiguousMatch, Err: err,
			})
			continue
		}
		if idx < 0 {
			res.Plan.ToAdd = append(res.Plan.ToAdd, Addition{Record: rec, TransitionKind: rec.DerivedStage()})
			continue
		}

		local := pop.members[idx]
		var current *transition.Transition
		if t, ok := latest[local.ID]; ok {
			if _, kindErr := section.ParseStage(string(t.Kind)); kindErr != nil {
				res.Diagnostics = append(res.Diagnostics, errorDiagnostic(row, &roster.MalformedRecordError{
					Source: roster.SourceLocal, Row: row, ExternalID: rec.ExternalID, MemberID: local.ID,
					Field: "transition kind", Reason: kindErr.Error(),
				}))
				continue
			}
			current = &t
		}

		diff := ComputeDiffs(local, rec, current, r.ranks)
		for _, rankErr := range diff.RankErrors {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind: DiagnosticWarning, Row: row, ExternalID: rec.ExternalID, MemberID: local.ID, Name: rec.Name,
				Reason: rankErr.Error(), Err: rankErr,
			})
		}

		decision := Decide(diff)
		if !decision.Action.IsUpdate() {
			res.Diagnostics = append(res.Diagnostics, Diagnostic{
				Kind: DiagnosticSkip, Row: row, ExternalID: rec.ExternalID, MemberID: local.ID, Name: rec.Name,
				Reason: decision.Reason,
			})
			continue
		}

		kind := decision.TransitionKind
		// any section change means a promotion is under way
		if _, moved := diff.FieldChanges[FieldSection]; moved {
			kind = section.StageLinking
		}
		res.Plan.ToUpdate = append(res.Plan.ToUpdate, Update{
			MemberID:       local.ID,
			Record:         rec,
			Action:         decision.Action,
			FieldChanges:   diff.FieldChanges,
			TransitionKind: kind,
			Reason:         decision.Reason,
		})
	}
	return res
}

func errorDiagnostic(row int, err error) Diagnostic {
	d := Diagnostic{Kind: DiagnosticError, Row: row, Reason: err.Error(), Err: err}
	var mr *roster.MalformedRecordError
	if errors.As(err, &mr) {
		d.ExternalID = mr.ExternalID
		d.MemberID = mr.MemberID
	}
	return d
}
