package web

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/csrf"

	"rollcall/internal/adapters/http/middleware"
	"rollcall/internal/application/orchestrators"
	"rollcall/internal/domain/audit"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccountID              string `json:"account_id"`
	Email                  string `json:"email"`
	Role                   string `json:"role"`
	PasswordChangeRequired bool   `json:"password_change_required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// handleCSRFToken hands form clients the token they must echo back (GET /csrf).
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"csrf_token": csrf.Token(r)})
}

// handleLogin handles POST /login with a JSON or form body.
// PRE: Request carries email and password
// POST: On success a session cookie is set and the account is returned
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
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
		req = loginRequest{Email: r.FormValue("email"), Password: r.FormValue("password")}
	}

	result, err := orchestrators.ExecuteLogin(r.Context(), orchestrators.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	}, orchestrators.LoginDeps{AccountStore: s.deps.Stores.Accounts, Now: s.now})
	switch {
	case errors.Is(err, orchestrators.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	case errors.Is(err, orchestrators.ErrAccountLocked):
		writeError(w, http.StatusLocked, err.Error())
		return
	case err != nil:
		internalError(w, err)
		return
	}

	token, err := s.sessions.Create(result.AccountID, result.Email, result.Role, result.PasswordChangeRequired)
	if err != nil {
		internalError(w, err)
		return
	}
	middleware.SetSessionCookie(w, token, s.opts.SessionTTL, s.opts.Secure)

	s.audit(r, audit.NewEvent(result.AccountID, result.Email, result.Role, audit.CategoryAccount, audit.ActionLogin).
		WithResource("account", result.AccountID))

	writeJSON(w, http.StatusOK, loginResponse{
		AccountID:              result.AccountID,
		Email:                  result.Email,
		Role:                   result.Role,
		PasswordChangeRequired: result.PasswordChangeRequired,
	})
}

// handleLogout handles POST /logout. It succeeds without a session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		s.sessions.Delete(cookie.Value)
	}
	if sess, ok := middleware.GetSessionFromContext(r.Context()); ok {
		s.audit(r, audit.NewEvent(sess.AccountID, sess.Email, sess.Role, audit.CategoryAccount, audit.ActionLogout).
			WithResource("account", sess.AccountID))
	}
	middleware.ClearSessionCookie(w, s.opts.Secure)
	w.WriteHeader(http.StatusNoContent)
}

// handleChangePassword handles POST /account/password.
// Every session of the account is dropped and the caller gets a fresh one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	sess, ok := middleware.GetSessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req changePasswordRequest
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
		req = changePasswordRequest{
			CurrentPassword: r.FormValue("current_password"),
			NewPassword:     r.FormValue("new_password"),
		}
	}

	err := orchestrators.ExecuteChangePassword(r.Context(), orchestrators.ChangePasswordInput{
		AccountID:       sess.AccountID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	}, orchestrators.ChangePasswordDeps{AccountStore: s.deps.Stores.Accounts})
	switch {
	case errors.Is(err, orchestrators.ErrCurrentPasswordWrong):
		writeError(w, http.StatusForbidden, err.Error())
		return
	case errors.Is(err, orchestrators.ErrNewPasswordSame):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		// weak passwords and missing fields come back as plain errors
		slog.Info("password_change_rejected", "account_id", sess.AccountID, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dropped := s.sessions.DeleteForAccount(sess.AccountID)
	token, err := s.sessions.Create(sess.AccountID, sess.Email, sess.Role, false)
	if err != nil {
		internalError(w, err)
		return
	}
	middleware.SetSessionCookie(w, token, s.opts.SessionTTL, s.opts.Secure)

	s.audit(r, audit.NewEvent(sess.AccountID, sess.Email, sess.Role, audit.CategorySecurity, audit.ActionUpdate).
		WithResource("account", sess.AccountID).
		WithDescription("password changed"))
	slog.Info("sessions_revoked", "account_id", sess.AccountID, "count", dropped)

	w.WriteHeader(http.StatusNoContent)
}

// audit records an event, stamped with the request origin. Failures are logged only.
func (s *Server) audit(r *http.Request, e audit.Event) {
	if s.deps.Stores.Audit == nil {
		return
	}
	e = e.At(s.now()).WithRequest(middleware.ClientIP(r), r.UserAgent())
	if err := s.deps.Stores.Audit.Save(r.Context(), e); err != nil {
		slog.Error("audit_save_failed", "action", e.Action, "err", err)
	}
}
