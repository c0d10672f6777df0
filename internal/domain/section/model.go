package section

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Section is an organisational sub-group a youth member belongs to.
// Values are always lower-case and trimmed; use Normalize at every input boundary.
type Section string

// Default sections, youngest first.
const (
	Joeys     Section = "joeys"
	Cubs      Section = "cubs"
	Scouts    Section = "scouts"
	Venturers Section = "venturers"
	Rovers    Section = "rovers"
)

// Stage is the lifecycle stage recorded by a membership transition.
type Stage string

// Stage constants. The set is closed: ParseStage rejects anything else.
const (
	StageLinking Stage = "linking"
	StageMember  Stage = "member"
	StageRetired Stage = "retired"
)

// LowestRank is the rank given to a value missing from a rank table.
// It sits below every configured rank so unknown values never outrank known ones.
const LowestRank = -1

// Domain errors
var (
	ErrUnknownStage  = errors.New("unknown membership stage")
	ErrEmptyRanks    = errors.New("rank table must contain at least one section")
	ErrMissingStages = errors.New("rank table must rank every stage")
)

// Normalize converts a raw section name into its canonical form.
func Normalize(raw string) Section {
	return Section(strings.ToLower(strings.TrimSpace(raw)))
}

// ParseStage converts a raw stage name into a Stage.
// PRE: raw is any string
// POST: Returns a valid Stage or ErrUnknownStage
func ParseStage(raw string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StageLinking, StageMember, StageRetired:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStage, raw)
}

// Ranks holds the ordering tables used to compare sections and stages.
// A youth progresses through sections in increasing rank; stages compare by rank
// when deciding whether an external roster advanced or regressed a member.
type Ranks struct {
	Sections map[Section]int `yaml:"sections" json:"sections"`
	Stages   map[Stage]int   `yaml:"stages" json:"stages"`
}

// DefaultRanks returns the standard section progression and stage precedence
// (linking < member < retired).
func DefaultRanks() Ranks {
	return Ranks{
		Sections: map[Section]int{
			Joeys:     1,
			Cubs:      2,
			Scouts:    3,
			Venturers: 4,
			Rovers:    5,
		},
		Stages: map[Stage]int{
			StageLinking: 1,
			StageMember:  2,
			StageRetired: 3,
		},
	}
}

// Validate checks that the table can rank every stage and at least one section.
// PRE: Ranks is populated
// POST: Returns nil if usable, error otherwise
func (r Ranks) Validate() error {
	if len(r.Sections) == 0 {
		return ErrEmptyRanks
	}
	for _, st := range []Stage{StageLinking, StageMember, StageRetired} {
		if _, ok := r.Stages[st]; !ok {
			return fmt.Errorf("%w: missing %q", ErrMissingStages, st)
		}
	}
	for s := range r.Sections {
		if Normalize(string(s)) != s {
			return fmt.Errorf("section %q must be lower-case without surrounding spaces", s)
		}
	}
	return nil
}

// Section returns the rank of s and whether the table knows it.
// Unknown sections rank as LowestRank.
func (r Ranks) Section(s Section) (int, bool) {
	rank, ok := r.Sections[s]
	if !ok {
		return LowestRank, false
	}
	return rank, true
}

// Stage returns the rank of st and whether the table knows it.
// Unknown stages rank as LowestRank.
func (r Ranks) Stage(st Stage) (int, bool) {
	rank, ok := r.Stages[st]
	if !ok {
		return LowestRank, false
	}
	return rank, true
}

// Ordered returns the known sections sorted by rank, ties broken by name.
func (r Ranks) Ordered() []Section {
	out := make([]Section, 0, len(r.Sections))
	for s := range r.Sections {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Section) int {
		if c := cmp.Compare(r.Sections[a], r.Sections[b]); c != 0 {
			return c
		}
		return strings.Compare(string(a), string(b))
	})
	return out
}
