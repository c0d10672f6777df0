// Package rostersync reconciles an external roster against locally stored members.
//
// The reconciler only proposes: BuildPlan is a pure function of its inputs and
// never touches storage. Applying a Plan is the caller's job.
package rostersync

import (
	"fmt"
	"strings"

	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
)

// Action classifies what a sync does with one external record.
type Action string

const (
	ActionAdd                 Action = "add"
	ActionUpdateFields        Action = "update_fields"
	ActionTransitionAndFields Action = "transition_and_fields"
	ActionSkip                Action = "skip"
)

// IsUpdate reports whether the action changes an existing member.
func (a Action) IsUpdate() bool {
	return a == ActionUpdateFields || a == ActionTransitionAndFields
}

// Skip and update reasons.
const (
	ReasonAlreadyRetired    = "already retired"
	ReasonLinkingInProgress = "linking in progress"
	ReasonSectionRegressed  = "section regressed"
	ReasonStageAdvanced     = "stage advanced"
	ReasonFieldChanges      = "field changes only"
	ReasonStageRegressed    = "stage regressed"
	ReasonNoChanges         = "no changes"
	ReasonAmbiguousMatch    = "ambiguous match"
	ReasonNewMember         = "new member"
)

// Compared field names, used as FieldChanges keys.
const (
	FieldName         = "name"
	FieldDateOfBirth  = "date_of_birth"
	FieldMemberNumber = "member_number"
	FieldExternalID   = "external_id"
	FieldSection      = "section"
)

// FieldChange is the local and external value of one differing field.
type FieldChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Addition is an external record with no local match.
type Addition struct {
	Record         roster.Record `json:"record"`
	TransitionKind section.Stage `json:"transition_kind"`
}

// Update is a proposed change to an existing member.
// TransitionKind is empty when no transition should be appended.
type Update struct {
	MemberID       string                 `json:"member_id"`
	Record         roster.Record          `json:"record"`
	Action         Action                 `json:"action"`
	FieldChanges   map[string]FieldChange `json:"field_changes"`
	TransitionKind section.Stage          `json:"transition_kind,omitempty"`
	Reason         string                 `json:"reason"`
}

// HasTransition reports whether applying u appends a transition.
func (u Update) HasTransition() bool {
	return u.TransitionKind != ""
}

// Plan is the actionable output of a reconciliation. It is built fresh on every
// request and is never persisted.
type Plan struct {
	ToAdd    []Addition `json:"to_add"`
	ToUpdate []Update   `json:"to_update"`
}

// Empty reports whether the plan has nothing to apply.
func (p Plan) Empty() bool {
	return len(p.ToAdd) == 0 && len(p.ToUpdate) == 0
}

// Diagnostic kinds.
const (
	DiagnosticSkip    = "skip"
	DiagnosticError   = "error"
	DiagnosticWarning = "warning"
)

// Diagnostic explains a record that produced no plan entry, or a non-fatal
// problem found while reconciling one.
type Diagnostic struct {
	Kind       string `json:"kind"`
	Row        int    `json:"row"` // 1-based position in the external input, 0 for local records
	ExternalID string `json:"external_id,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Reason     string `json:"reason"`
	Err        error  `json:"-"`
}

// Result is a Plan plus the per-record diagnostics produced while building it.
type Result struct {
	Plan        Plan         `json:"plan"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Summary counts the entries of a Result.
type Summary struct {
	Adds     int `json:"adds"`
	Updates  int `json:"updates"`
	Skips    int `json:"skips"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// Summary counts plan entries and diagnostics by kind.
func (r Result) Summary() Summary {
	s := Summary{Adds: len(r.Plan.ToAdd), Updates: len(r.Plan.ToUpdate)}
	for _, d := range r.Diagnostics {
		switch d.Kind {
		case DiagnosticSkip:
			s.Skips++
		case DiagnosticError:
			s.Errors++
		case DiagnosticWarning:
			s.Warnings++
		}
	}
	return s
}

// Skips returns the skip diagnostics in input order.
func (r Result) Skips() []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Kind == DiagnosticSkip {
			out = append(out, d)
		}
	}
	return out
}

// AmbiguousMatchError is reported when more than one local member matches an
// external record on name and date of birth.
type AmbiguousMatchError struct {
	ExternalID string
	Name       string
	Candidates []string
}

// Error implements the error interface.
func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("external record %q (%s) matches %d local members on name and date of birth: %s",
		e.ExternalID, e.Name, len(e.Candidates), strings.Join(e.Candidates, ", "))
}

// RankLookupError is reported when a section or stage is missing from the rank table.
// The value is ranked as section.LowestRank and reconciliation continues.
type RankLookupError struct {
	Table string // "section" or "stage"
	Value string
}

// Error implements the error interface.
func (e *RankLookupError) Error() string {
	return fmt.Sprintf("%s %q is not in the rank table; ranked lowest", e.Table, e.Value)
}
