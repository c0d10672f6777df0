package rostersync

import "rollcall/internal/domain/section"

// Decision is the outcome of evaluating the sync rules for one matched record.
type Decision struct {
	Action         Action
	TransitionKind section.Stage
	Reason         string
}

// Rule pairs a predicate over a Diff with the decision it produces.
type Rule struct {
	Name string
	When func(Diff) bool
	Then Decision
}

// rules are evaluated top to bottom; the first match wins.
// The order is policy: retired members are terminal, in-progress linking is
// protected before any regression check, and a stage advance outranks plain
// field updates.
var rules = []Rule{
	{
		Name: "retired",
		When: func(d Diff) bool { return d.IsRetired },
		Then: Decision{Action: ActionSkip, Reason: ReasonAlreadyRetired},
	},
	{
		Name: "linking_regression",
		When: func(d Diff) bool { return d.SectionDelta < 0 && d.IsLinking },
		Then: Decision{Action: ActionSkip, Reason: ReasonLinkingInProgress},
	},
	{
		Name: "section_regression",
		When: func(d Diff) bool { return d.SectionDelta < 0 },
		Then: Decision{Action: ActionSkip, Reason: ReasonSectionRegressed},
	},
	{
		Name: "stage_advance",
		When: func(d Diff) bool { return d.SectionDelta == 0 && d.StageDelta > 0 },
		Then: Decision{Action: ActionTransitionAndFields, TransitionKind: section.StageMember, Reason: ReasonStageAdvanced},
	},
	{
		Name: "field_changes",
		When: func(d Diff) bool { return d.HasFieldChanges() },
		Then: Decision{Action: ActionUpdateFields, Reason: ReasonFieldChanges},
	},
	{
		Name: "stage_regression",
		When: func(d Diff) bool { return d.StageDelta < 0 },
		Then: Decision{Action: ActionSkip, Reason: ReasonStageRegressed},
	},
	{
		Name: "no_changes",
		When: func(Diff) bool { return true },
		Then: Decision{Action: ActionSkip, Reason: ReasonNoChanges},
	},
}

// Rules returns a copy of the ordered decision rules.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Decide evaluates the rules in order and returns the first matching decision.
// PRE: d was produced by ComputeDiffs
// POST: Always returns a decision; the last rule matches everything
func Decide(d Diff) Decision {
	decision, _ := decideWith(d)
	return decision
}

// decideWith also returns the name of the rule that fired.
func decideWith(d Diff) (Decision, string) {
	for _, r := range rules {
		if r.When(d) {
			return r.Then, r.Name
		}
	}
	return Decision{Action: ActionSkip, Reason: ReasonNoChanges}, "no_changes"
}
