package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"rollcall/internal/adapters/metrics"
	"rollcall/internal/domain/audit"
	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/rostersync"
	"rollcall/internal/domain/section"
	"rollcall/internal/domain/transition"
)

// mockSource returns a fixed batch.
type mockSource struct {
	batch roster.Batch
	err   error
	units []string
}

func (s *mockSource) FetchMembers(_ context.Context, unitID string) (roster.Batch, error) {
	s.units = append(s.units, unitID)
	return s.batch, s.err
}

// mockMemberStoreForSync keeps one unit's members in memory.
type mockMemberStoreForSync struct {
	members     []member.Member
	rejected    []*roster.MalformedRecordError
	saved       []member.Member
	transitions []transition.Transition
	failExtID   string
}

func (m *mockMemberStoreForSync) ListByUnit(_ context.Context, _ string) ([]member.Member, []*roster.MalformedRecordError, error) {
	return m.members, m.rejected, nil
}

func (m *mockMemberStoreForSync) Save(_ context.Context, mem member.Member) error {
	if m.failExtID != "" && mem.ExternalID == m.failExtID {
		return errors.New("disk full")
	}
	m.saved = append(m.saved, mem)
	return nil
}

func (m *mockMemberStoreForSync) SaveWithTransition(ctx context.Context, mem member.Member, t transition.Transition) error {
	if err := m.Save(ctx, mem); err != nil {
		return err
	}
	m.transitions = append(m.transitions, t)
	return nil
}

type mockTransitionStoreForSync struct {
	history []transition.Transition
}

func (m *mockTransitionStoreForSync) ListByUnit(_ context.Context, _ string) ([]transition.Transition, error) {
	return m.history, nil
}

type mockAuditStore struct {
	events []audit.Event
}

func (m *mockAuditStore) Save(_ context.Context, e audit.Event) error {
	m.events = append(m.events, e)
	return nil
}

var syncClock = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func jamie() member.Member {
	return member.Member{
		ID: "m-1", UnitID: "unit-1", ExternalID: "X1", Name: "Jamie Lee",
		DateOfBirth: time.Date(2015, 3, 2, 0, 0, 0, 0, time.UTC), Section: section.Cubs,
	}
}

func jamieRecord() roster.Record {
	return roster.Record{
		ExternalID: "X1", Name: "Jamie Lee", DateOfBirth: time.Date(2015, 3, 2, 0, 0, 0, 0, time.UTC),
		Section: section.Cubs, Status: roster.StatusActive,
	}
}

func samRecord() roster.Record {
	return roster.Record{
		ExternalID: "X2", Name: "Sam Ng", DateOfBirth: time.Date(2012, 7, 9, 0, 0, 0, 0, time.UTC),
		Section: section.Scouts, Status: roster.StatusActive,
	}
}

// TestExecutePreviewSync_MergesDiagnosticsInSourceOrder verifies parse rejections,
// plan skips and local warnings land in one list numbered by source row.
// PRE: record 1 is unchanged, row 2 failed to parse, row 3 is new
// POST: diagnostics are row 1 skip, row 2 error, then the local warning
func TestExecutePreviewSync_MergesDiagnosticsInSourceOrder(t *testing.T) {
	m := metrics.New(nil)
	deps := PreviewSyncDeps{
		Source: &mockSource{batch: roster.Batch{
			Records: []roster.Record{jamieRecord(), samRecord()},
			Rejected: []*roster.MalformedRecordError{{
				Source: roster.SourceExternal, Row: 2, ExternalID: "X9", Field: "date_of_birth", Reason: "is not a date",
			}},
		}},
		MemberStore: &mockMemberStoreForSync{
			members: []member.Member{jamie()},
			rejected: []*roster.MalformedRecordError{{
				Source: roster.SourceLocal, MemberID: "m-3", Field: "date_of_birth", Reason: "is not a date",
			}},
		},
		TransitionStore: &mockTransitionStoreForSync{history: []transition.Transition{
			{ID: "t-1", MemberID: "m-1", Kind: section.StageMember, Section: section.Cubs, Date: syncClock.AddDate(-1, 0, 0)},
		}},
		Reconciler: rostersync.New(section.DefaultRanks()),
		Metrics:    m,
		Now:        func() time.Time { return syncClock },
	}

	res, err := ExecutePreviewSync(context.Background(), PreviewSyncInput{UnitID: "unit-1"}, deps)
	if err != nil {
		t.Fatalf("ExecutePreviewSync: %v", err)
	}

	type diag struct {
		Kind, ExternalID, MemberID string
		Row                        int
	}
	var got []diag
	for _, d := range res.Diagnostics {
		got = append(got, diag{Kind: d.Kind, ExternalID: d.ExternalID, MemberID: d.MemberID, Row: d.Row})
	}
	want := []diag{
		{Kind: rostersync.DiagnosticSkip, ExternalID: "X1", MemberID: "m-1", Row: 1},
		{Kind: rostersync.DiagnosticError, ExternalID: "X9", Row: 2},
		{Kind: rostersync.DiagnosticWarning, MemberID: "m-3"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}

	if len(res.Plan.ToAdd) != 1 || res.Plan.ToAdd[0].Record.ExternalID != "X2" {
		t.Errorf("ToAdd = %+v, want X2 only", res.Plan.ToAdd)
	}
	wantSummary := rostersync.Summary{Adds: 1, Skips: 1, Errors: 1, Warnings: 1}
	if res.Summary != wantSummary {
		t.Errorf("Summary = %+v, want %+v", res.Summary, wantSummary)
	}
	if !res.BuiltAt.Equal(syncClock) {
		t.Errorf("BuiltAt = %v", res.BuiltAt)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "rollcall_roster_sync_runs_total"); err != nil || n != 1 {
		t.Errorf("run series = %d (%v), want 1", n, err)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "rollcall_roster_sync_records_total"); err != nil || n != 4 {
		t.Errorf("record series = %d (%v), want 4", n, err)
	}
}

// TestExecutePreviewSync_Errors covers a missing unit and a failing source.
func TestExecutePreviewSync_Errors(t *testing.T) {
	deps := PreviewSyncDeps{
		Source:          &mockSource{err: errors.New("roster api down")},
		MemberStore:     &mockMemberStoreForSync{},
		TransitionStore: &mockTransitionStoreForSync{},
		Reconciler:      rostersync.New(section.DefaultRanks()),
	}
	if _, err := ExecutePreviewSync(context.Background(), PreviewSyncInput{UnitID: " "}, deps); !errors.Is(err, ErrUnitRequired) {
		t.Errorf("blank unit err = %v, want ErrUnitRequired", err)
	}
	_, err := ExecutePreviewSync(context.Background(), PreviewSyncInput{UnitID: "unit-1"}, deps)
	if err == nil || !strings.Contains(err.Error(), "roster api down") {
		t.Errorf("err = %v, want wrapped source error", err)
	}
}

func applyDeps(members *mockMemberStoreForSync, audits *mockAuditStore, latest transition.Transition) ApplySyncDeps {
	return ApplySyncDeps{
		Source:          &mockSource{batch: roster.Batch{Records: []roster.Record{jamieRecord(), samRecord()}}},
		MemberStore:     members,
		TransitionStore: &mockTransitionStoreForSync{history: []transition.Transition{latest}},
		AuditStore:      audits,
		Reconciler:      rostersync.New(section.DefaultRanks()),
		Locks:           &UnitLocks{},
		Now:             func() time.Time { return syncClock },
		GenerateID:      sequentialIDs(),
	}
}

func linkingJamie() transition.Transition {
	return transition.Transition{
		ID: "t-1", MemberID: "m-1", Kind: section.StageLinking, Section: section.Cubs, Date: syncClock.AddDate(0, -1, 0),
	}
}

// TestExecuteApplySync_WritesPlan verifies adds and stage advances are stored with transitions.
// PRE: Jamie is linking into cubs and now active there; Sam is new
// POST: Sam is created with a member transition; Jamie gains a member transition; one audit event
func TestExecuteApplySync_WritesPlan(t *testing.T) {
	members := &mockMemberStoreForSync{members: []member.Member{jamie()}}
	audits := &mockAuditStore{}

	res, err := ExecuteApplySync(context.Background(), ApplySyncInput{
		UnitID: "unit-1", ActorID: "acct-1", ActorEmail: "admin@example.org", ActorRole: "admin",
	}, applyDeps(members, audits, linkingJamie()))
	if err != nil {
		t.Fatalf("ExecuteApplySync: %v", err)
	}

	if res.Added != 1 || res.Updated != 1 || res.Transitions != 2 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v", res)
	}

	wantSam := member.Member{
		ID: "id-1", UnitID: "unit-1", ExternalID: "X2", Name: "Sam Ng",
		DateOfBirth: samRecord().DateOfBirth, Section: section.Scouts,
		CreatedAt: syncClock, UpdatedAt: syncClock,
	}
	if diff := cmp.Diff(wantSam, members.saved[0]); diff != "" {
		t.Errorf("added member mismatch (-want +got):\n%s", diff)
	}

	wantTransitions := []transition.Transition{
		{ID: "id-2", MemberID: "id-1", Kind: section.StageMember, Section: section.Scouts, Date: syncClock, Notes: rostersync.ReasonNewMember, CreatedAt: syncClock},
		{ID: "id-3", MemberID: "m-1", Kind: section.StageMember, Section: section.Cubs, Date: syncClock, Notes: rostersync.ReasonStageAdvanced, CreatedAt: syncClock},
	}
	if diff := cmp.Diff(wantTransitions, members.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}

	if len(audits.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(audits.events))
	}
	ev := audits.events[0]
	if ev.Category != audit.CategorySync || ev.Action != audit.ActionApply || ev.ResourceID != "unit-1" {
		t.Errorf("audit event = %+v", ev)
	}
	if !strings.Contains(ev.Metadata, `"added":1`) {
		t.Errorf("metadata = %s", ev.Metadata)
	}
	if res.AuditEventID != ev.ID {
		t.Errorf("AuditEventID = %q, want %q", res.AuditEventID, ev.ID)
	}
}

// TestExecuteApplySync_FieldUpdateWithoutTransition saves the member only.
func TestExecuteApplySync_FieldUpdateWithoutTransition(t *testing.T) {
	local := jamie()
	local.Name = "Jamie"
	members := &mockMemberStoreForSync{members: []member.Member{local}}
	deps := applyDeps(members, &mockAuditStore{}, transition.Transition{
		ID: "t-1", MemberID: "m-1", Kind: section.StageMember, Section: section.Cubs, Date: syncClock.AddDate(-1, 0, 0),
	})
	deps.Source = &mockSource{batch: roster.Batch{Records: []roster.Record{jamieRecord()}}}

	res, err := ExecuteApplySync(context.Background(), ApplySyncInput{UnitID: "unit-1", ActorID: "acct-1", ActorRole: "admin"}, deps)
	if err != nil {
		t.Fatalf("ExecuteApplySync: %v", err)
	}
	if res.Updated != 1 || res.Transitions != 0 {
		t.Fatalf("result = %+v", res)
	}
	if got := members.saved[0].Name; got != "Jamie Lee" {
		t.Errorf("saved name = %q", got)
	}
	if len(members.transitions) != 0 {
		t.Errorf("transitions = %+v, want none", members.transitions)
	}
}

// TestExecuteApplySync_RowFailureDoesNotAbort keeps applying after one entry fails.
func TestExecuteApplySync_RowFailureDoesNotAbort(t *testing.T) {
	members := &mockMemberStoreForSync{members: []member.Member{jamie()}, failExtID: "X2"}
	audits := &mockAuditStore{}

	res, err := ExecuteApplySync(context.Background(), ApplySyncInput{UnitID: "unit-1", ActorID: "acct-1", ActorRole: "admin"},
		applyDeps(members, audits, linkingJamie()))
	if err != nil {
		t.Fatalf("ExecuteApplySync: %v", err)
	}
	if res.Added != 0 || res.Updated != 1 {
		t.Errorf("added=%d updated=%d, want 0 and 1", res.Added, res.Updated)
	}
	if len(res.Errors) != 1 || res.Errors[0].ExternalID != "X2" || res.Errors[0].Message != "disk full" {
		t.Errorf("errors = %+v", res.Errors)
	}
	if audits.events[0].Severity != audit.SeverityWarning {
		t.Errorf("severity = %q, want warning", audits.events[0].Severity)
	}
}

// TestExecuteApplySync_DryRun plans and validates without writing.
// PRE: actor is a leader
// POST: counts match a real apply; no member, transition or audit writes
func TestExecuteApplySync_DryRun(t *testing.T) {
	members := &mockMemberStoreForSync{members: []member.Member{jamie()}}
	audits := &mockAuditStore{}

	res, err := ExecuteApplySync(context.Background(), ApplySyncInput{
		UnitID: "unit-1", ActorID: "acct-2", ActorRole: "leader", DryRun: true,
	}, applyDeps(members, audits, linkingJamie()))
	if err != nil {
		t.Fatalf("ExecuteApplySync: %v", err)
	}
	if !res.DryRun || res.Added != 1 || res.Updated != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(members.saved)+len(members.transitions)+len(audits.events) != 0 {
		t.Errorf("dry run wrote: %d members, %d transitions, %d audit events",
			len(members.saved), len(members.transitions), len(audits.events))
	}
}

// TestExecuteApplySync_LeaderForbidden rejects a real apply from a non-admin.
func TestExecuteApplySync_LeaderForbidden(t *testing.T) {
	members := &mockMemberStoreForSync{members: []member.Member{jamie()}}
	_, err := ExecuteApplySync(context.Background(), ApplySyncInput{UnitID: "unit-1", ActorID: "acct-2", ActorRole: "leader"},
		applyDeps(members, &mockAuditStore{}, linkingJamie()))
	if !errors.Is(err, ErrApplyForbidden) {
		t.Errorf("err = %v, want ErrApplyForbidden", err)
	}
}

// TestUnitLocks_SerialisesSameUnit checks that one unit's holders never overlap.
func TestUnitLocks_SerialisesSameUnit(t *testing.T) {
	var locks UnitLocks
	var mu sync.Mutex
	active, maxActive := 0, 0

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("unit-1")
			defer unlock()
			mu.Lock()
			active++
			maxActive = max(maxActive, active)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}

	// different units do not block each other
	unlockA := locks.Lock("unit-a")
	unlockB := locks.Lock("unit-b")
	unlockB()
	unlockA()
}
