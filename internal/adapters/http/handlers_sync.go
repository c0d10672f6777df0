package web

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"rollcall/internal/adapters/export"
	"rollcall/internal/adapters/http/middleware"
	"rollcall/internal/adapters/terrain"
	"rollcall/internal/application/orchestrators"
	"rollcall/internal/domain/audit"
	"rollcall/internal/domain/rostersync"
)

type applyRequest struct {
	Unit   string `json:"unit"`
	DryRun bool   `json:"dry_run"`
	Notify bool   `json:"notify"`
}

type applyResponse struct {
	orchestrators.ApplySyncResult
	Notified  int    `json:"notified"`
	NotifyErr string `json:"notify_error,omitempty"`
}

func (s *Server) previewDeps() orchestrators.PreviewSyncDeps {
	return orchestrators.PreviewSyncDeps{
		Source:          s.deps.Source,
		MemberStore:     s.deps.Stores.Members,
		TransitionStore: s.deps.Stores.Transitions,
		Reconciler:      s.deps.Reconciler,
		Metrics:         s.deps.Metrics,
		Now:             s.now,
	}
}

// handleSyncPreview handles GET /admin/sync/preview?unit=ID.
// PRE: Session belongs to a leader or admin
// POST: Returns the plan, summary and diagnostics; nothing is written
func (s *Server) handleSyncPreview(w http.ResponseWriter, r *http.Request) {
	res, err := orchestrators.ExecutePreviewSync(r.Context(), orchestrators.PreviewSyncInput{
		UnitID: r.URL.Query().Get("unit"),
	}, s.previewDeps())
	if err != nil {
		syncError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSyncApply handles POST /admin/sync/apply with a JSON or form body.
// Leaders may only dry-run; admins apply. With notify set, the report is
// emailed to the configured recipients after the run.
func (s *Server) handleSyncApply(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req applyRequest
	if isJSON(r) {
		if err := strictDecode(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form submission")
			return
		}
		req.Unit = r.FormValue("unit")
		req.DryRun = formBool(r.FormValue("dry_run"))
		req.Notify = formBool(r.FormValue("notify"))
	}

	res, err := orchestrators.ExecuteApplySync(r.Context(), orchestrators.ApplySyncInput{
		UnitID:     req.Unit,
		ActorID:    sess.AccountID,
		ActorEmail: sess.Email,
		ActorRole:  sess.Role,
		DryRun:     req.DryRun,
		IPAddress:  middleware.ClientIP(r),
		UserAgent:  r.UserAgent(),
	}, orchestrators.ApplySyncDeps{
		Source:          s.deps.Source,
		MemberStore:     s.deps.Stores.Members,
		TransitionStore: s.deps.Stores.Transitions,
		AuditStore:      s.deps.Stores.Audit,
		Reconciler:      s.deps.Reconciler,
		Metrics:         s.deps.Metrics,
		Locks:           s.locks,
		Now:             s.now,
	})
	if err != nil {
		syncError(w, err)
		return
	}

	out := applyResponse{ApplySyncResult: res}
	if req.Notify {
		out.Notified, err = orchestrators.ExecuteNotifySync(r.Context(), orchestrators.NotifySyncInput{
			UnitID:     res.UnitID,
			Result:     rostersync.Result{Plan: res.Plan, Diagnostics: res.Diagnostics},
			Applied:    !res.DryRun,
			Recipients: s.opts.ReportRecipients,
			From:       s.opts.EmailFrom,
			ReplyTo:    s.opts.ReplyTo,
		}, orchestrators.NotifySyncDeps{Sender: s.deps.Sender})
		if err != nil {
			// the sync already happened; report the mail failure alongside it
			slog.Warn("roster_sync_notify_failed", "unit", res.UnitID, "err", err)
			out.NotifyErr = err.Error()
		} else {
			s.audit(r, audit.NewEvent(sess.AccountID, sess.Email, sess.Role, audit.CategorySync, audit.ActionNotify).
				WithResource("unit", res.UnitID).
				WithDescription(fmt.Sprintf("sync report sent to %d recipients", out.Notified)))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleSyncExport handles GET /admin/sync/export?unit=ID&format=csv|xlsx.
func (s *Server) handleSyncExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeError(w, http.StatusBadRequest, "format must be csv or xlsx")
		return
	}

	res, err := orchestrators.ExecutePreviewSync(r.Context(), orchestrators.PreviewSyncInput{
		UnitID: r.URL.Query().Get("unit"),
	}, s.previewDeps())
	if err != nil {
		syncError(w, err)
		return
	}

	// render fully before writing headers so a failure can still be a 500
	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = export.WritePlanXLSX(&buf, res.Result)
	} else {
		err = export.WritePlanCSV(&buf, res.Result)
	}
	if err != nil {
		internalError(w, err)
		return
	}

	if sess, ok := middleware.GetSessionFromContext(r.Context()); ok {
		s.audit(r, audit.NewEvent(sess.AccountID, sess.Email, sess.Role, audit.CategorySync, audit.ActionExport).
			WithResource("unit", res.UnitID).
			WithDescription("sync plan exported as "+format))
	}

	filename := fmt.Sprintf("sync-%s-%s.%s", safeFilename(res.UnitID), res.BuiltAt.Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("export_write_failed", "unit", res.UnitID, "err", err)
	}
}

// syncError maps sync failures to status codes.
func syncError(w http.ResponseWriter, err error) {
	var apiErr *terrain.APIError
	var formatErr *terrain.FormatError
	switch {
	case errors.Is(err, orchestrators.ErrUnitRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrators.ErrApplyForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.As(err, &apiErr), errors.As(err, &formatErr):
		slog.Error("roster_source_failed", "err", err)
		writeError(w, http.StatusBadGateway, "roster source failed: "+err.Error())
	default:
		internalError(w, err)
	}
}

func formBool(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b || v == "on"
}

// safeFilename keeps letters, digits, dash and underscore.
func safeFilename(s string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
	if name == "" {
		return "unit"
	}
	return name
}
