package rostersync

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/section"
	"rollcall/internal/domain/transition"
)

// TestComputeDiffs_EmptyExternalValuesAreChanges: the roster is authoritative, so a value it drops is a change.
func TestComputeDiffs_EmptyExternalValuesAreChanges(t *testing.T) {
	local := member.Member{
		ID: "1", Name: "Ari Moana", ExternalID: "T-1", MemberNumber: "N-1",
		DateOfBirth: time.Date(2012, 6, 30, 0, 0, 0, 0, time.UTC), Section: section.Cubs,
	}
	ext := roster.Record{ExternalID: "T-1", Name: " Ari Moana ", Section: section.Cubs, Status: "active"}

	d := ComputeDiffs(local, ext, nil, section.DefaultRanks())
	want := map[string]FieldChange{
		FieldDateOfBirth:  {From: "2012-06-30", To: ""},
		FieldMemberNumber: {From: "N-1", To: ""},
	}
	if diff := cmp.Diff(want, d.FieldChanges); diff != "" {
		t.Errorf("field changes (-want +got):\n%s", diff)
	}
	if d.SectionDelta != 0 || d.StageDelta != 0 {
		t.Errorf("deltas = %d/%d, want 0/0", d.SectionDelta, d.StageDelta)
	}
}

// TestComputeDiffs_BothBlankIsNoChange: values missing on both sides agree.
func TestComputeDiffs_BothBlankIsNoChange(t *testing.T) {
	local := member.Member{ID: "1", Name: "Ari Moana", Section: section.Cubs}
	ext := roster.Record{Name: "Ari Moana", Section: section.Cubs, Status: "active"}

	if d := ComputeDiffs(local, ext, nil, section.DefaultRanks()); d.HasFieldChanges() {
		t.Errorf("field changes = %+v, want none", d.FieldChanges)
	}
}

func TestComputeDiffs_FieldChanges(t *testing.T) {
	local := member.Member{
		ID: "1", Name: "Ari Moana", MemberNumber: "N-1",
		DateOfBirth: time.Date(2012, 6, 30, 0, 0, 0, 0, time.UTC), Section: section.Cubs,
	}
	ext := roster.Record{
		ExternalID: "T-1", Name: "Ari Moana-Smith", MemberNumber: "N-2",
		DateOfBirth: time.Date(2012, 7, 1, 0, 0, 0, 0, time.UTC), Section: section.Scouts, Status: "active",
	}

	d := ComputeDiffs(local, ext, nil, section.DefaultRanks())
	want := map[string]FieldChange{
		FieldName:         {From: "Ari Moana", To: "Ari Moana-Smith"},
		FieldDateOfBirth:  {From: "2012-06-30", To: "2012-07-01"},
		FieldMemberNumber: {From: "N-1", To: "N-2"},
		FieldExternalID:   {From: "", To: "T-1"},
		FieldSection:      {From: "cubs", To: "scouts"},
	}
	if diff := cmp.Diff(want, d.FieldChanges); diff != "" {
		t.Errorf("field changes (-want +got):\n%s", diff)
	}
	if d.SectionDelta != 1 {
		t.Errorf("section delta = %d, want 1", d.SectionDelta)
	}
}

// TestComputeDiffs_LatestTransitionIsCurrentState: the latest transition overrides the member's section.
func TestComputeDiffs_LatestTransitionIsCurrentState(t *testing.T) {
	local := member.Member{ID: "1", Name: "Ari", Section: section.Cubs}
	latest := &transition.Transition{MemberID: "1", Kind: section.StageLinking, Section: section.Scouts}
	ext := roster.Record{Name: "Ari", Section: section.Cubs, Status: "active"}

	d := ComputeDiffs(local, ext, latest, section.DefaultRanks())
	if !d.IsLinking || d.IsRetired {
		t.Errorf("flags linking=%v retired=%v, want true/false", d.IsLinking, d.IsRetired)
	}
	if d.SectionDelta != -1 {
		t.Errorf("section delta = %d, want -1", d.SectionDelta)
	}
	if d.StageDelta != 1 {
		t.Errorf("stage delta = %d, want 1", d.StageDelta)
	}
	if _, ok := d.FieldChanges[FieldSection]; ok {
		t.Error("section change reported while linking")
	}
}

func TestComputeDiffs_UnknownRankReportedOnce(t *testing.T) {
	local := member.Member{ID: "1", Name: "Ari", Section: "keas"}
	ext := roster.Record{Name: "Ari", Section: "keas", Status: "active"}

	d := ComputeDiffs(local, ext, nil, section.DefaultRanks())
	if len(d.RankErrors) != 1 {
		t.Fatalf("rank errors = %v, want 1", d.RankErrors)
	}
	if d.SectionDelta != 0 {
		t.Errorf("section delta = %d, want 0 (both lowest)", d.SectionDelta)
	}
}
