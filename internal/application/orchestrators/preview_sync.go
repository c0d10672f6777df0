package orchestrators

import (
	"context"
	"log/slog"
	"time"

	"rollcall/internal/adapters/metrics"
	"rollcall/internal/domain/rostersync"
)

// PreviewSyncInput names the unit to reconcile.
type PreviewSyncInput struct {
	UnitID string
}

// PreviewSyncResult is a freshly built plan. It is never stored; applying
// rebuilds it from current data.
type PreviewSyncResult struct {
	UnitID  string             `json:"unit_id"`
	BuiltAt time.Time          `json:"built_at"`
	Summary rostersync.Summary `json:"summary"`
	rostersync.Result
}

// PreviewSyncDeps holds dependencies for PreviewSync.
type PreviewSyncDeps struct {
	Source          RosterSource
	MemberStore     MemberStoreForSync
	TransitionStore TransitionStoreForSync
	Reconciler      *rostersync.Reconciler
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

// ExecutePreviewSync builds the sync plan for a unit without writing anything.
// PRE: UnitID is non-empty; deps are set (Metrics and Now are optional)
// POST: Returns the plan with merged diagnostics, or an error if either side could not be read
// INVARIANT: No store writes occur
func ExecutePreviewSync(ctx context.Context, input PreviewSyncInput, deps PreviewSyncDeps) (PreviewSyncResult, error) {
	start := time.Now()
	snap, err := planUnit(ctx, input.UnitID, deps.Source, deps.MemberStore, deps.TransitionStore, deps.Reconciler)
	deps.Metrics.SyncRun(SyncModePreview, err)
	if err != nil {
		slog.Error("roster_sync_preview_failed", "unit", input.UnitID, "err", err)
		return PreviewSyncResult{}, err
	}

	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	summary := snap.result.Summary()
	recordSummary(deps.Metrics, SyncModePreview, summary)

	slog.Info("roster_sync_preview",
		"unit", input.UnitID,
		"adds", summary.Adds,
		"updates", summary.Updates,
		"skips", summary.Skips,
		"errors", summary.Errors,
		"warnings", summary.Warnings,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return PreviewSyncResult{
		UnitID:  input.UnitID,
		BuiltAt: now().UTC(),
		Summary: summary,
		Result:  snap.result,
	}, nil
}

func recordSummary(m *metrics.Metrics, mode string, s rostersync.Summary) {
	m.SyncRecords(mode, metrics.OutcomeAdded, s.Adds)
	m.SyncRecords(mode, metrics.OutcomeUpdated, s.Updates)
	m.SyncRecords(mode, metrics.OutcomeSkipped, s.Skips)
	m.SyncRecords(mode, metrics.OutcomeFailed, s.Errors)
	m.SyncRecords(mode, metrics.OutcomeWarning, s.Warnings)
}
