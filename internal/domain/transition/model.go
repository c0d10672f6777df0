package transition

import (
	"errors"
	"time"

	"rollcall/internal/domain/section"
)

// Domain errors
var (
	ErrEmptyMemberID = errors.New("transition must belong to a member")
	ErrZeroDate      = errors.New("transition date must be set")
)

// Transition is one entry in a member's append-only lifecycle log.
type Transition struct {
	ID        string
	MemberID  string
	Kind      section.Stage
	Section   section.Section
	Date      time.Time
	Notes     string
	CreatedAt time.Time
}

// Validate checks if the Transition has valid data.
// PRE: Transition struct is initialized
// POST: Returns error if validation fails, nil otherwise
func (t *Transition) Validate() error {
	if t.MemberID == "" {
		return ErrEmptyMemberID
	}
	if _, err := section.ParseStage(string(t.Kind)); err != nil {
		return err
	}
	if t.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// Latest selects a member's current transition.
// Order: latest Date first, then higher section rank, then higher kind rank.
// A final comparison on ID keeps the choice stable when every key ties.
// PRE: ts belong to one member
// POST: Returns the current transition and true, or false when ts is empty
// INVARIANT: The result does not depend on the order of ts
func Latest(ts []Transition, ranks section.Ranks) (Transition, bool) {
	if len(ts) == 0 {
		return Transition{}, false
	}
	best := ts[0]
	for _, t := range ts[1:] {
		if after(t, best, ranks) {
			best = t
		}
	}
	return best, true
}

// LatestByMember groups ts by member and selects each member's current transition.
func LatestByMember(ts []Transition, ranks section.Ranks) map[string]Transition {
	grouped := make(map[string][]Transition)
	for _, t := range ts {
		grouped[t.MemberID] = append(grouped[t.MemberID], t)
	}
	out := make(map[string]Transition, len(grouped))
	for id, group := range grouped {
		if latest, ok := Latest(group, ranks); ok {
			out[id] = latest
		}
	}
	return out
}

// after reports whether a sorts ahead of b.
func after(a, b Transition, ranks section.Ranks) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.After(b.Date)
	}
	as, _ := ranks.Section(a.Section)
	bs, _ := ranks.Section(b.Section)
	if as != bs {
		return as > bs
	}
	ak, _ := ranks.Stage(a.Kind)
	bk, _ := ranks.Stage(b.Kind)
	if ak != bk {
		return ak > bk
	}
	return a.ID > b.ID
}
