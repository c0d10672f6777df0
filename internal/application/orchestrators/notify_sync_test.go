package orchestrators

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rollcall/internal/adapters/email"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/rostersync"
	"rollcall/internal/domain/section"
)

// failingSender rejects every batch.
type failingSender struct{ email.NoopSender }

func (f *failingSender) SendBatch(context.Context, []email.SendRequest) ([]email.SendResult, error) {
	return nil, errors.New("provider unavailable")
}

func reportResult() rostersync.Result {
	return rostersync.Result{
		Plan: rostersync.Plan{
			ToAdd: []rostersync.Addition{{
				Record:         roster.Record{ExternalID: "X2", Name: "Sam <b>Ng</b>", Section: section.Scouts, Status: "active"},
				TransitionKind: section.StageMember,
			}},
			ToUpdate: []rostersync.Update{{
				MemberID: "m-1",
				Record:   roster.Record{ExternalID: "X1", Name: "Jamie Lee"},
				Action:   rostersync.ActionUpdateFields,
				FieldChanges: map[string]rostersync.FieldChange{
					rostersync.FieldName: {From: "Jamie", To: "Jamie Lee"},
				},
				Reason: rostersync.ReasonFieldChanges,
			}},
		},
		Diagnostics: []rostersync.Diagnostic{
			{Kind: rostersync.DiagnosticSkip, Row: 3, Reason: rostersync.ReasonNoChanges},
			{Kind: rostersync.DiagnosticError, Row: 4, Reason: "malformed external record (row 4): name is required"},
		},
	}
}

// TestRenderSyncReport lists additions, updates and problems but not plain skips.
func TestRenderSyncReport(t *testing.T) {
	md := RenderSyncReport("unit-1", reportResult(), true)

	for _, want := range []string{
		"# Roster sync applied: unit-1",
		"1 added, 1 updated, 1 skipped, 1 errors, 0 warnings.",
		"| Sam &lt;b&gt;Ng&lt;/b&gt; | scouts |",
		`name: Jamie → Jamie Lee`,
		"- **error** row 4: malformed external record (row 4): name is required",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q:\n%s", want, md)
		}
	}
	if strings.Contains(md, rostersync.ReasonNoChanges+"\n") {
		t.Errorf("report should not list plain skips:\n%s", md)
	}
}

// TestExecuteNotifySync sends one message per recipient with an HTML table.
func TestExecuteNotifySync(t *testing.T) {
	sender := email.NewNoopSender()
	n, err := ExecuteNotifySync(context.Background(), NotifySyncInput{
		UnitID:     "unit-1",
		Result:     reportResult(),
		Recipients: []string{"a@example.org", "b@example.org"},
		ReplyTo:    "leaders@example.org",
	}, NotifySyncDeps{Sender: sender})
	if err != nil {
		t.Fatalf("ExecuteNotifySync: %v", err)
	}
	if n != 2 {
		t.Errorf("sent = %d, want 2", n)
	}

	sent := sender.Sent()
	if len(sent) != 2 || sent[1].To[0] != "b@example.org" {
		t.Fatalf("sent = %+v", sent)
	}
	msg := sent[0]
	if msg.Subject != "Roster sync preview for unit-1: 1 added, 1 updated" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "<table>") {
		t.Errorf("html should render the tables:\n%s", msg.HTML)
	}
	if strings.Contains(msg.HTML, "<b>") {
		t.Errorf("html must not carry roster markup:\n%s", msg.HTML)
	}
	if msg.Text == "" || msg.ReplyTo != "leaders@example.org" {
		t.Errorf("text/reply-to not set: %+v", msg)
	}
}

// TestExecuteNotifySync_Errors covers missing recipients and provider failure.
func TestExecuteNotifySync_Errors(t *testing.T) {
	_, err := ExecuteNotifySync(context.Background(), NotifySyncInput{UnitID: "unit-1"}, NotifySyncDeps{Sender: email.NewNoopSender()})
	if !errors.Is(err, ErrNoRecipients) {
		t.Errorf("err = %v, want ErrNoRecipients", err)
	}

	_, err = ExecuteNotifySync(context.Background(), NotifySyncInput{
		UnitID: "unit-1", Recipients: []string{"a@example.org"},
	}, NotifySyncDeps{Sender: &failingSender{}})
	if err == nil || !strings.Contains(err.Error(), "provider unavailable") {
		t.Errorf("err = %v, want provider error", err)
	}
}
