package member_test

import (
	"errors"
	"testing"
	"time"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/section"
)

// TestMemberValidation tests validation of Member.
func TestMemberValidation(t *testing.T) {
	tests := []struct {
		name    string
		member  member.Member
		wantErr error
	}{
		{
			name: "valid member",
			member: member.Member{
				ID:      "m-1",
				UnitID:  "unit-1",
				Name:    "Jamie Lee",
				Section: section.Cubs,
			},
		},
		{
			name:    "empty id",
			member:  member.Member{UnitID: "unit-1", Name: "Jamie Lee"},
			wantErr: member.ErrEmptyID,
		},
		{
			name:    "empty unit",
			member:  member.Member{ID: "m-1", Name: "Jamie Lee"},
			wantErr: member.ErrEmptyUnit,
		},
		{
			name:    "blank name",
			member:  member.Member{ID: "m-1", UnitID: "unit-1", Name: "   "},
			wantErr: member.ErrEmptyName,
		},
		{
			name: "name too long",
			member: member.Member{
				ID:     "m-1",
				UnitID: "unit-1",
				Name:   string(make([]byte, member.MaxNameLength+1)),
			},
			wantErr: member.ErrNameTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.member.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestNormalizeName verifies case-insensitive, whitespace-insensitive name keys.
func TestNormalizeName(t *testing.T) {
	pairs := [][2]string{
		{"Jamie Lee", "  jamie   LEE "},
		{"ZOË", "zoë"},
		{"O'Brien\tSmith", "o'brien smith"},
	}
	for _, p := range pairs {
		if member.NormalizeName(p[0]) != member.NormalizeName(p[1]) {
			t.Errorf("NormalizeName(%q) != NormalizeName(%q)", p[0], p[1])
		}
	}
	if member.NormalizeName("Jamie Lee") == member.NormalizeName("Jamie Leigh") {
		t.Error("different names must not normalise to the same key")
	}
}

// TestSameDay ignores time of day and location offsets within the same date.
func TestSameDay(t *testing.T) {
	a := time.Date(2014, 5, 6, 0, 0, 0, 0, time.UTC)
	b := time.Date(2014, 5, 6, 17, 30, 0, 0, time.UTC)
	c := time.Date(2014, 5, 7, 0, 0, 0, 0, time.UTC)

	if !member.SameDay(a, b) {
		t.Error("same date with different times should match")
	}
	if member.SameDay(a, c) {
		t.Error("different dates should not match")
	}
	if member.SameDay(time.Time{}, time.Time{}) {
		t.Error("zero dates must never match")
	}
}

// TestParseDate accepts plain dates, midnight timestamps and empty strings.
func TestParseDate(t *testing.T) {
	want := time.Date(2012, 3, 4, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{"2012-03-04", " 2012-03-04 ", "2012-03-04T00:00:00Z"} {
		got, err := member.ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q) unexpected error: %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}

	if got, err := member.ParseDate(""); err != nil || !got.IsZero() {
		t.Errorf("ParseDate(\"\") = %v, %v; want zero, nil", got, err)
	}
	if _, err := member.ParseDate("04/03/2012"); err == nil {
		t.Error("expected error for non ISO date")
	}
}
