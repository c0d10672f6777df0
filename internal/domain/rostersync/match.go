package rostersync

import (
	"time"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
)

// MatchRule names the rule that paired an external record with a local member.
type MatchRule string

// Matching rules in precedence order. MatchNone means the record is unmatched.
const (
	MatchNone         MatchRule = ""
	MatchExternalID   MatchRule = "external_id"
	MatchMemberNumber MatchRule = "member_number"
	MatchNameAndBirth MatchRule = "name_and_birth"
)

// population indexes a local member slice for matching.
// Indexes hold positions into members so results follow input order.
type population struct {
	members      []member.Member
	byExternalID map[string]int
	byNumber     map[string]int
	byNameBirth  map[string][]int
}

func newPopulation(members []member.Member) *population {
	p := &population{
		members:      members,
		byExternalID: make(map[string]int),
		byNumber:     make(map[string]int),
		byNameBirth:  make(map[string][]int),
	}
	for i, m := range members {
		if m.ExternalID != "" {
			if _, dup := p.byExternalID[m.ExternalID]; !dup {
				p.byExternalID[m.ExternalID] = i
			}
		}
		if m.MemberNumber != "" {
			if _, dup := p.byNumber[m.MemberNumber]; !dup {
				p.byNumber[m.MemberNumber] = i
			}
		}
		if key, ok := nameBirthKey(m.Name, m.DateOfBirth); ok {
			p.byNameBirth[key] = append(p.byNameBirth[key], i)
		}
	}
	return p
}

// nameBirthKey is the fallback match key; records without a name or birth date have none.
func nameBirthKey(name string, dob time.Time) (string, bool) {
	n := member.NormalizeName(name)
	if n == "" || dob.IsZero() {
		return "", false
	}
	return n + "\x00" + member.FormatDate(dob), true
}

// match returns the index of the matched member, or -1.
func (p *population) match(rec roster.Record) (int, MatchRule, error) {
	if rec.ExternalID != "" {
		if i, ok := p.byExternalID[rec.ExternalID]; ok {
			return i, MatchExternalID, nil
		}
	}
	if rec.MemberNumber != "" {
		if i, ok := p.byNumber[rec.MemberNumber]; ok {
			return i, MatchMemberNumber, nil
		}
	}
	key, ok := nameBirthKey(rec.Name, rec.DateOfBirth)
	if !ok {
		return -1, MatchNone, nil
	}
	hits := p.byNameBirth[key]
	switch len(hits) {
	case 0:
		return -1, MatchNone, nil
	case 1:
		return hits[0], MatchNameAndBirth, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = p.members[h].ID
	}
	return -1, MatchNameAndBirth, &AmbiguousMatchError{ExternalID: rec.ExternalID, Name: rec.Name, Candidates: ids}
}

// Match finds the local member an external record refers to.
// Precedence: external id, then member number, then normalised name plus
// calendar date of birth. The first rule with a hit wins.
// PRE: locals satisfy the unique external id invariant
// POST: Returns the member and rule on a hit; MatchNone when unmatched;
// an *AmbiguousMatchError when several members share the name and birth date
func Match(rec roster.Record, locals []member.Member) (member.Member, MatchRule, error) {
	p := newPopulation(locals)
	i, rule, err := p.match(rec)
	if err != nil || i < 0 {
		return member.Member{}, rule, err
	}
	return locals[i], rule, nil
}
