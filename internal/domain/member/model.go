package member

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"rollcall/internal/domain/section"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength = 100
)

// DateLayout is the calendar-date layout used for dates of birth everywhere.
const DateLayout = "2006-01-02"

// Domain errors
var (
	ErrEmptyID     = errors.New("member id cannot be empty")
	ErrEmptyName   = errors.New("member name cannot be empty")
	ErrNameTooLong = errors.New("member name cannot exceed 100 characters")
	ErrEmptyUnit   = errors.New("member must belong to a unit")
)

// Member is a locally stored youth member, scoped to one unit (organisational group).
// ExternalID is empty until the member has been matched to a roster record.
type Member struct {
	ID           string
	UnitID       string
	ExternalID   string
	Name         string
	DateOfBirth  time.Time
	Section      section.Section
	MemberNumber string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks if the Member has valid data.
// PRE: Member struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: ID, UnitID and Name must not be empty
func (m *Member) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(m.UnitID) == "" {
		return ErrEmptyUnit
	}
	if strings.TrimSpace(m.Name) == "" {
		return ErrEmptyName
	}
	if len(m.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// HasDateOfBirth reports whether a date of birth is recorded.
func (m *Member) HasDateOfBirth() bool {
	return !m.DateOfBirth.IsZero()
}

// BirthDate formats the date of birth as YYYY-MM-DD, or "" when unknown.
func (m *Member) BirthDate() string {
	return FormatDate(m.DateOfBirth)
}

var folder = cases.Fold()

// NormalizeName returns the comparison key for a person's name:
// trimmed, inner whitespace collapsed, and Unicode case-folded.
func NormalizeName(name string) string {
	return folder.String(strings.Join(strings.Fields(name), " "))
}

// SameDay reports whether a and b fall on the same calendar date, ignoring time of day.
// Zero times never match.
func SameDay(a, b time.Time) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// FormatDate formats t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ParseDate parses a YYYY-MM-DD date. An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	// tolerate full timestamps from APIs that return midnight datetimes
	if len(s) > len(DateLayout) && s[len(DateLayout)] == 'T' {
		s = s[:len(DateLayout)]
	}
	return time.Parse(DateLayout, s)
}
