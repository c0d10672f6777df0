package orchestrators

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"rollcall/internal/domain/member"
	"rollcall/internal/domain/roster"
	"rollcall/internal/domain/rostersync"
	"rollcall/internal/domain/transition"
)

// Sync modes, used as metric labels and in logs.
const (
	SyncModePreview = "preview"
	SyncModeApply   = "apply"
	SyncModeDryRun  = "dry_run"
)

// ErrUnitRequired is returned when a sync names no unit.
var ErrUnitRequired = errors.New("unit id is required")

// RosterSource supplies the external roster for one unit, fully materialised.
type RosterSource interface {
	FetchMembers(ctx context.Context, unitID string) (roster.Batch, error)
}

// MemberStoreForSync defines the member store operations a sync needs.
type MemberStoreForSync interface {
	ListByUnit(ctx context.Context, unitID string) ([]member.Member, []*roster.MalformedRecordError, error)
	Save(ctx context.Context, m member.Member) error
	SaveWithTransition(ctx context.Context, m member.Member, t transition.Transition) error
}

// TransitionStoreForSync defines the transition store operations a sync needs.
type TransitionStoreForSync interface {
	ListByUnit(ctx context.Context, unitID string) ([]transition.Transition, error)
}

// unitSnapshot is everything a plan was built from.
type unitSnapshot struct {
	result rostersync.Result
	locals map[string]member.Member
}

// planUnit fetches both sides of a unit and reconciles them. Diagnostics from
// parsing, planning and the local store are merged: external rows first in
// source order, then local records.
func planUnit(ctx context.Context, unitID string, source RosterSource, members MemberStoreForSync, transitions TransitionStoreForSync, reconciler *rostersync.Reconciler) (unitSnapshot, error) {
	if strings.TrimSpace(unitID) == "" {
		return unitSnapshot{}, ErrUnitRequired
	}

	batch, err := source.FetchMembers(ctx, unitID)
	if err != nil {
		return unitSnapshot{}, fmt.Errorf("fetch roster: %w", err)
	}
	locals, localRejected, err := members.ListByUnit(ctx, unitID)
	if err != nil {
		return unitSnapshot{}, fmt.Errorf("list members: %w", err)
	}
	history, err := transitions.ListByUnit(ctx, unitID)
	if err != nil {
		return unitSnapshot{}, fmt.Errorf("list transitions: %w", err)
	}
	latest := transition.LatestByMember(history, reconciler.Ranks())

	res := reconciler.BuildPlan(batch.Records, locals, latest)

	rows := batch.RecordRows()
	for i := range res.Diagnostics {
		if d := &res.Diagnostics[i]; d.Row > 0 && d.Row <= len(rows) {
			d.Row = rows[d.Row-1]
			var mr *roster.MalformedRecordError
			if errors.As(d.Err, &mr) {
				mr.Row = d.Row
				d.Reason = mr.Error()
			}
		}
	}
	external := make([]rostersync.Diagnostic, 0, len(batch.Rejected)+len(res.Diagnostics))
	for _, bad := range batch.Rejected {
		external = append(external, rejectedDiagnostic(bad))
	}
	var local []rostersync.Diagnostic
	for _, d := range res.Diagnostics {
		if d.Row > 0 {
			external = append(external, d)
		} else {
			local = append(local, d)
		}
	}
	slices.SortStableFunc(external, func(a, b rostersync.Diagnostic) int { return cmp.Compare(a.Row, b.Row) })
	for _, bad := range localRejected {
		local = append(local, rejectedDiagnostic(bad))
	}
	res.Diagnostics = append(external, local...)

	byID := make(map[string]member.Member, len(locals))
	for _, m := range locals {
		byID[m.ID] = m
	}
	return unitSnapshot{result: res, locals: byID}, nil
}

func rejectedDiagnostic(bad *roster.MalformedRecordError) rostersync.Diagnostic {
	kind := rostersync.DiagnosticError
	// stored rows with a bad birth date are still reconciled
	if bad.Source == roster.SourceLocal {
		kind = rostersync.DiagnosticWarning
	}
	return rostersync.Diagnostic{
		Kind:       kind,
		Row:        bad.Row,
		ExternalID: bad.ExternalID,
		MemberID:   bad.MemberID,
		Reason:     bad.Error(),
		Err:        bad,
	}
}

// UnitLocks serialises writes per unit within one process.
type UnitLocks struct {
	mu    sync.Mutex
	units map[string]*sync.Mutex
}

// Lock blocks until unitID is free and returns the unlock function.
func (l *UnitLocks) Lock(unitID string) func() {
	l.mu.Lock()
	if l.units == nil {
		l.units = make(map[string]*sync.Mutex)
	}
	m, ok := l.units[unitID]
	if !ok {
		m = &sync.Mutex{}
		l.units[unitID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
