package orchestrators

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/adapters/metrics"
	"rollcall/internal/domain/account"
	"rollcall/internal/domain/audit"
	"rollcall/internal/domain/member"
	"rollcall/internal/domain/rostersync"
	"rollcall/internal/domain/transition"
)

// ErrApplyForbidden is returned when the actor may preview but not apply.
var ErrApplyForbidden = errors.New("only admins can apply a roster sync")

// AuditStoreForSync defines the audit store operation a sync needs.
type AuditStoreForSync interface {
	Save(ctx context.Context, e audit.Event) error
}

// ApplySyncInput identifies the unit and the actor applying its sync.
// PRE: UnitID and ActorID are non-empty
type ApplySyncInput struct {
	UnitID     string
	ActorID    string
	ActorEmail string
	ActorRole  string
	DryRun     bool
	IPAddress  string
	UserAgent  string
}

// ApplySyncRowError describes a plan entry that could not be written.
type ApplySyncRowError struct {
	ExternalID string `json:"external_id,omitempty"`
	MemberID   string `json:"member_id,omitempty"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// ApplySyncResult holds counts and per-entry errors from an apply run.
type ApplySyncResult struct {
	UnitID       string                  `json:"unit_id"`
	DryRun       bool                    `json:"dry_run"`
	Added        int                     `json:"added"`
	Updated      int                     `json:"updated"`
	Transitions  int                     `json:"transitions"`
	Errors       []ApplySyncRowError     `json:"errors"`
	Diagnostics  []rostersync.Diagnostic `json:"diagnostics"`
	AuditEventID string                  `json:"audit_event_id,omitempty"`
	Plan         rostersync.Plan         `json:"-"`
}

// ApplySyncDeps holds dependencies for ApplySync.
type ApplySyncDeps struct {
	Source          RosterSource
	MemberStore     MemberStoreForSync
	TransitionStore TransitionStoreForSync
	AuditStore      AuditStoreForSync
	Reconciler      *rostersync.Reconciler
	Metrics         *metrics.Metrics
	Locks           *UnitLocks
	Now             func() time.Time
	GenerateID      func() string
}

// ExecuteApplySync rebuilds a unit's plan from current data and writes it.
// Each entry is written in its own transaction; a failed entry is reported
// and the rest of the plan still applies.
// PRE: UnitID and ActorID are non-empty; the actor role may apply unless DryRun
// POST: Members are added or updated and transitions appended per the plan;
// one audit event records the run
// INVARIANT: When DryRun=true no writes occur
func ExecuteApplySync(ctx context.Context, input ApplySyncInput, deps ApplySyncDeps) (ApplySyncResult, error) {
	if input.ActorID == "" {
		return ApplySyncResult{}, errors.New("actor is required")
	}
	if !input.DryRun && input.ActorRole != account.RoleAdmin {
		return ApplySyncResult{}, ErrApplyForbidden
	}

	mode := SyncModeApply
	if input.DryRun {
		mode = SyncModeDryRun
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	genID := deps.GenerateID
	if genID == nil {
		genID = uuid.NewString
	}
	if deps.Locks != nil && !input.DryRun {
		defer deps.Locks.Lock(input.UnitID)()
	}

	start := time.Now()
	snap, err := planUnit(ctx, input.UnitID, deps.Source, deps.MemberStore, deps.TransitionStore, deps.Reconciler)
	if err != nil {
		deps.Metrics.SyncRun(mode, err)
		slog.Error("roster_sync_apply_failed", "unit", input.UnitID, "actor", input.ActorID, "err", err)
		return ApplySyncResult{}, err
	}

	result := ApplySyncResult{
		UnitID:      input.UnitID,
		DryRun:      input.DryRun,
		Diagnostics: snap.result.Diagnostics,
		Plan:        snap.result.Plan,
	}
	at := now().UTC()

	for _, add := range snap.result.Plan.ToAdd {
		m := member.Member{
			ID:           genID(),
			UnitID:       input.UnitID,
			ExternalID:   add.Record.ExternalID,
			Name:         add.Record.Name,
			DateOfBirth:  add.Record.DateOfBirth,
			Section:      add.Record.Section,
			MemberNumber: add.Record.MemberNumber,
			CreatedAt:    at,
			UpdatedAt:    at,
		}
		t := transition.Transition{
			ID:        genID(),
			MemberID:  m.ID,
			Kind:      add.TransitionKind,
			Section:   add.Record.Section,
			Date:      at,
			Notes:     rostersync.ReasonNewMember,
			CreatedAt: at,
		}
		if err := writeEntry(ctx, deps.MemberStore, m, &t, input.DryRun); err != nil {
			slog.Error("roster_sync_add_failed", "unit", input.UnitID, "external_id", add.Record.ExternalID, "err", err)
			result.Errors = append(result.Errors, ApplySyncRowError{
				ExternalID: add.Record.ExternalID, Name: add.Record.Name, Message: err.Error(),
			})
			continue
		}
		result.Added++
		result.Transitions++
	}

	for _, upd := range snap.result.Plan.ToUpdate {
		local, ok := snap.locals[upd.MemberID]
		if !ok {
			result.Errors = append(result.Errors, ApplySyncRowError{
				ExternalID: upd.Record.ExternalID, MemberID: upd.MemberID, Name: upd.Record.Name,
				Message: "member is no longer in this unit",
			})
			continue
		}
		m := applyFieldChanges(local, upd)
		m.UpdatedAt = at

		var t *transition.Transition
		if upd.HasTransition() {
			sec := upd.Record.Section
			if sec == "" {
				sec = m.Section
			}
			t = &transition.Transition{
				ID:        genID(),
				MemberID:  m.ID,
				Kind:      upd.TransitionKind,
				Section:   sec,
				Date:      at,
				Notes:     upd.Reason,
				CreatedAt: at,
			}
		}
		if err := writeEntry(ctx, deps.MemberStore, m, t, input.DryRun); err != nil {
			slog.Error("roster_sync_update_failed", "unit", input.UnitID, "member_id", upd.MemberID, "err", err)
			result.Errors = append(result.Errors, ApplySyncRowError{
				ExternalID: upd.Record.ExternalID, MemberID: upd.MemberID, Name: upd.Record.Name, Message: err.Error(),
			})
			continue
		}
		result.Updated++
		if t != nil {
			result.Transitions++
		}
	}

	summary := snap.result.Summary()
	deps.Metrics.SyncRun(mode, nil)
	deps.Metrics.SyncRecords(mode, metrics.OutcomeAdded, result.Added)
	deps.Metrics.SyncRecords(mode, metrics.OutcomeUpdated, result.Updated)
	deps.Metrics.SyncRecords(mode, metrics.OutcomeSkipped, summary.Skips)
	deps.Metrics.SyncRecords(mode, metrics.OutcomeFailed, summary.Errors+len(result.Errors))
	deps.Metrics.SyncRecords(mode, metrics.OutcomeWarning, summary.Warnings)

	if !input.DryRun && deps.AuditStore != nil {
		event := syncAuditEvent(input, result, summary).At(at)
		if err := deps.AuditStore.Save(ctx, event); err != nil {
			slog.Error("audit_write_failed", "unit", input.UnitID, "err", err)
		} else {
			result.AuditEventID = event.ID
		}
	}

	slog.Info("roster_sync_applied",
		"unit", input.UnitID,
		"actor", input.ActorID,
		"dry_run", input.DryRun,
		"added", result.Added,
		"updated", result.Updated,
		"transitions", result.Transitions,
		"skipped", summary.Skips,
		"errors", summary.Errors+len(result.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// writeEntry validates and stores one plan entry. t may be nil.
func writeEntry(ctx context.Context, store MemberStoreForSync, m member.Member, t *transition.Transition, dryRun bool) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if t != nil {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if dryRun {
		return nil
	}
	if t == nil {
		return store.Save(ctx, m)
	}
	return store.SaveWithTransition(ctx, m, *t)
}

// applyFieldChanges copies the changed fields of upd onto local.
func applyFieldChanges(local member.Member, upd rostersync.Update) member.Member {
	m := local
	rec := upd.Record
	for field := range upd.FieldChanges {
		switch field {
		case rostersync.FieldName:
			m.Name = rec.Name
		case rostersync.FieldDateOfBirth:
			m.DateOfBirth = rec.DateOfBirth
		case rostersync.FieldMemberNumber:
			m.MemberNumber = rec.MemberNumber
		case rostersync.FieldExternalID:
			m.ExternalID = rec.ExternalID
		case rostersync.FieldSection:
			m.Section = rec.Section
		}
	}
	return m
}

func syncAuditEvent(input ApplySyncInput, result ApplySyncResult, summary rostersync.Summary) audit.Event {
	meta, _ := json.Marshal(map[string]int{
		"added":       result.Added,
		"updated":     result.Updated,
		"transitions": result.Transitions,
		"skipped":     summary.Skips,
		"errors":      summary.Errors + len(result.Errors),
		"warnings":    summary.Warnings,
	})
	severity := audit.SeverityInfo
	if len(result.Errors) > 0 {
		severity = audit.SeverityWarning
	}
	return audit.NewEvent(input.ActorID, input.ActorEmail, input.ActorRole, audit.CategorySync, audit.ActionApply).
		WithSeverity(severity).
		WithResource("unit", input.UnitID).
		WithDescription(fmt.Sprintf("roster sync applied: %d added, %d updated, %d failed",
			result.Added, result.Updated, len(result.Errors))).
		WithRequest(input.IPAddress, input.UserAgent).
		WithMetadata(string(meta))
}
