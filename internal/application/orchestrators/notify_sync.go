package orchestrators

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkHTML "github.com/yuin/goldmark/renderer/html"

	"rollcall/internal/adapters/email"
	"rollcall/internal/domain/member"
	"rollcall/internal/domain/rostersync"
)

// ErrNoRecipients is returned when a report has nobody to go to.
var ErrNoRecipients = errors.New("sync report has no recipients")

// reportRenderer leaves raw HTML out of the output (goldmark default).
var reportRenderer = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithRendererOptions(goldmarkHTML.WithHardWraps()),
)

// NotifySyncInput carries a finished sync for reporting.
type NotifySyncInput struct {
	UnitID     string
	Result     rostersync.Result
	Applied    bool
	Recipients []string
	From       string
	ReplyTo    string
}

// NotifySyncDeps holds dependencies for NotifySync.
type NotifySyncDeps struct {
	Sender email.Sender
}

// ExecuteNotifySync emails a sync report to each recipient separately.
// PRE: Recipients is non-empty
// POST: One message per recipient is handed to the sender; returns how many were accepted
func ExecuteNotifySync(ctx context.Context, input NotifySyncInput, deps NotifySyncDeps) (int, error) {
	if len(input.Recipients) == 0 {
		return 0, ErrNoRecipients
	}

	md := RenderSyncReport(input.UnitID, input.Result, input.Applied)
	var html bytes.Buffer
	if err := reportRenderer.Convert([]byte(md), &html); err != nil {
		return 0, fmt.Errorf("render sync report: %w", err)
	}

	verb := "preview"
	if input.Applied {
		verb = "applied"
	}
	s := input.Result.Summary()
	subject := fmt.Sprintf("Roster sync %s for %s: %d added, %d updated", verb, input.UnitID, s.Adds, s.Updates)

	reqs := make([]email.SendRequest, 0, len(input.Recipients))
	for _, to := range input.Recipients {
		reqs = append(reqs, email.SendRequest{
			To:      []string{to},
			From:    input.From,
			Subject: subject,
			HTML:    html.String(),
			Text:    md,
			ReplyTo: input.ReplyTo,
		})
	}
	results, err := deps.Sender.SendBatch(ctx, reqs)
	if err != nil {
		return len(results), fmt.Errorf("send sync report: %w", err)
	}

	slog.Info("roster_sync_report_sent", "unit", input.UnitID, "applied", input.Applied, "recipients", len(results))
	return len(results), nil
}

// RenderSyncReport summarises a sync result as markdown.
func RenderSyncReport(unitID string, res rostersync.Result, applied bool) string {
	var b strings.Builder
	s := res.Summary()

	title := "Roster sync preview"
	if applied {
		title = "Roster sync applied"
	}
	fmt.Fprintf(&b, "# %s: %s\n\n", title, mdEscape(unitID))
	fmt.Fprintf(&b, "%d added, %d updated, %d skipped, %d errors, %d warnings.\n\n",
		s.Adds, s.Updates, s.Skips, s.Errors, s.Warnings)

	if len(res.Plan.ToAdd) > 0 {
		b.WriteString("## New members\n\n| Name | Section | Born | Stage |\n|---|---|---|---|\n")
		for _, a := range res.Plan.ToAdd {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				mdEscape(a.Record.Name), mdEscape(string(a.Record.Section)),
				member.FormatDate(a.Record.DateOfBirth), a.TransitionKind)
		}
		b.WriteString("\n")
	}

	if len(res.Plan.ToUpdate) > 0 {
		b.WriteString("## Updates\n\n| Name | Changes | Transition | Reason |\n|---|---|---|---|\n")
		for _, u := range res.Plan.ToUpdate {
			changes := make([]string, 0, len(u.FieldChanges))
			for _, field := range []string{
				rostersync.FieldName, rostersync.FieldDateOfBirth, rostersync.FieldMemberNumber,
				rostersync.FieldExternalID, rostersync.FieldSection,
			} {
				if c, ok := u.FieldChanges[field]; ok {
					changes = append(changes, fmt.Sprintf("%s: %s → %s", field, mdEscape(c.From), mdEscape(c.To)))
				}
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				mdEscape(u.Record.Name), strings.Join(changes, "; "), u.TransitionKind, u.Reason)
		}
		b.WriteString("\n")
	}

	var problems []rostersync.Diagnostic
	for _, d := range res.Diagnostics {
		if d.Kind != rostersync.DiagnosticSkip {
			problems = append(problems, d)
		}
	}
	if len(problems) > 0 {
		b.WriteString("## Needs attention\n\n")
		for _, d := range problems {
			fmt.Fprintf(&b, "- **%s**", d.Kind)
			if d.Row > 0 {
				fmt.Fprintf(&b, " row %d", d.Row)
			}
			fmt.Fprintf(&b, ": %s\n", mdEscape(d.Reason))
		}
	}
	return b.String()
}

var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "|", `\|`, "*", `\*`, "_", `\_`, "`", "\\`",
	"[", `\[`, "]", `\]`, "<", "&lt;", ">", "&gt;", "#", `\#`,
)

func mdEscape(s string) string {
	return mdEscaper.Replace(s)
}
