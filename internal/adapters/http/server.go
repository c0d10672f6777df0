// Package web serves the rollcall JSON API: leader login, roster sync
// preview/apply/export, the audit trail and operational endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"rollcall/internal/adapters/email"
	"rollcall/internal/adapters/http/middleware"
	"rollcall/internal/adapters/metrics"
	accountStore "rollcall/internal/adapters/storage/account"
	auditStore "rollcall/internal/adapters/storage/audit"
	memberStore "rollcall/internal/adapters/storage/member"
	transitionStore "rollcall/internal/adapters/storage/transition"
	"rollcall/internal/application/orchestrators"
	"rollcall/internal/domain/account"
	"rollcall/internal/domain/rostersync"
)

// maxBodyBytes caps JSON and form request bodies.
const maxBodyBytes = 1 << 20

// Stores holds the storage dependencies of the API.
type Stores struct {
	Accounts    accountStore.Store
	Members     memberStore.Store
	Transitions transitionStore.Store
	Audit       auditStore.Store
}

// Pinger reports database health.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options tunes the HTTP surface.
type Options struct {
	Secure            bool // HTTPS only cookies and strict CSRF origin checks
	CSRFKey           []byte
	TrustedOrigins    []string
	RequestsPerSecond float64
	LoginPerMinute    int
	SlowRequest       time.Duration
	SessionTTL        time.Duration
	ReportRecipients  []string
	EmailFrom         string
	ReplyTo           string
}

// Deps are the collaborators the server delegates to.
type Deps struct {
	Stores     Stores
	Source     orchestrators.RosterSource
	Reconciler *rostersync.Reconciler
	Metrics    *metrics.Metrics
	Sender     email.Sender
	DB         Pinger
	Now        func() time.Time
}

// Server owns the session store, limiters and per-unit apply locks.
type Server struct {
	opts         Options
	deps         Deps
	sessions     *middleware.SessionStore
	limiter      *middleware.IPRateLimiter
	loginLimiter *middleware.IPRateLimiter
	locks        *orchestrators.UnitLocks
	now          func() time.Time
}

// NewServer validates options and builds a server.
// PRE: opts.CSRFKey is 32 bytes; deps.Stores, Source and Reconciler are set
// POST: Returns a server ready for Handler
func NewServer(opts Options, deps Deps) (*Server, error) {
	if len(opts.CSRFKey) != 32 {
		return nil, errors.New("csrf key must be 32 bytes")
	}
	if deps.Source == nil || deps.Reconciler == nil {
		return nil, errors.New("roster source and reconciler are required")
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 20
	}
	if opts.LoginPerMinute <= 0 {
		opts.LoginPerMinute = 10
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = middleware.DefaultSessionTTL
	}
	if deps.Sender == nil {
		deps.Sender = email.NewNoopSender()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	burst := max(1, int(opts.RequestsPerSecond))
	return &Server{
		opts:         opts,
		deps:         deps,
		sessions:     middleware.NewSessionStore(opts.SessionTTL),
		limiter:      middleware.NewIPRateLimiter(rate.Limit(opts.RequestsPerSecond), burst*2),
		loginLimiter: middleware.NewIPRateLimiter(rate.Every(time.Minute/time.Duration(opts.LoginPerMinute)), opts.LoginPerMinute),
		locks:        &orchestrators.UnitLocks{},
		now:          now,
	}, nil
}

// Sessions exposes the session store, e.g. to clear it on shutdown.
func (s *Server) Sessions() *middleware.SessionStore {
	return s.sessions
}

// Handler wires routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	leaders := middleware.RequireAuth
	admins := middleware.RequireRole(account.RoleAdmin)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	mux.Handle("POST /login", s.limitLogin(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("GET /csrf", s.handleCSRFToken)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("POST /account/password", s.handleChangePassword)

	mux.Handle("GET /admin/sync/preview", leaders(http.HandlerFunc(s.handleSyncPreview)))
	mux.Handle("POST /admin/sync/apply", leaders(http.HandlerFunc(s.handleSyncApply)))
	mux.Handle("GET /admin/sync/export", leaders(http.HandlerFunc(s.handleSyncExport)))
	mux.Handle("GET /admin/members", leaders(http.HandlerFunc(s.handleUnitMembers)))
	mux.Handle("GET /admin/members/{id}", leaders(http.HandlerFunc(s.handleMemberHistory)))
	mux.Handle("GET /admin/audit", admins(http.HandlerFunc(s.handleAuditTrail)))

	// Timing wraps the mux directly so it can read the matched route pattern.
	return middleware.Chain(mux,
		middleware.Timing(s.deps.Metrics, s.opts.SlowRequest),
		middleware.Auth(s.sessions),
		middleware.RateLimit(s.limiter),
		middleware.CSRF(s.opts.CSRFKey, s.opts.Secure, s.opts.TrustedOrigins),
		middleware.SecurityHeaders,
	)
}

func (s *Server) limitLogin(next http.Handler) http.Handler {
	return middleware.RateLimit(s.loginLimiter)(next)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.DB.PingContext(ctx); err != nil {
			slog.Error("health_check_failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response_encode_failed", "err", err)
	}
}

// writeError sends a JSON error body.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs the real error and returns a generic message to the client.
func internalError(w http.ResponseWriter, err error) {
	slog.Error("internal_error", "error", err.Error())
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// strictDecode decodes a JSON body, rejecting unknown fields.
func strictDecode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

// isJSON reports whether the request body is JSON.
func isJSON(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return len(ct) >= len("application/json") && ct[:len("application/json")] == "application/json"
}
