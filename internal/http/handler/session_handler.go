package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fitpulse/session-service/internal/http/middleware"
	"github.com/fitpulse/session-service/internal/http/response"
	"github.com/fitpulse/session-service/internal/observability"
	"github.com/fitpulse/session-service/internal/security"
	"github.com/fitpulse/session-service/internal/service"
)

// SessionCookieName is the only channel through which the session id
// moves to and from the client. Response bodies never carry it.
const SessionCookieName = "fp_session"

// sessionCookieMaxAge matches the 30-day retention window.
const sessionCookieMaxAge = 30 * 24 * 60 * 60

// Action is one operation of the session protocol. The serverless
// entry shape dispatches on it from a query parameter; the listener
// shape mounts one route per action. Both run the same handler
// methods.
type Action string

const (
	ActionStoreRefresh       Action = "store_refresh"
	ActionRefresh            Action = "refresh"
	ActionClearRefresh       Action = "clear_refresh"
	ActionRevokeSession      Action = "revoke_session"
	ActionRevokeUserSessions Action = "revoke_user_sessions"
	ActionCleanup            Action = "cleanup_refresh_tokens"
)

func ParseAction(raw string) (Action, bool) {
	switch a := Action(raw); a {
	case ActionStoreRefresh, ActionRefresh, ActionClearRefresh,
		ActionRevokeSession, ActionRevokeUserSessions, ActionCleanup:
		return a, true
	default:
		return "", false
	}
}

// IsAdmin reports whether the action requires the admin gate.
func (a Action) IsAdmin() bool {
	switch a {
	case ActionRevokeSession, ActionRevokeUserSessions, ActionCleanup:
		return true
	default:
		return false
	}
}

type SessionHandler struct {
	sessions   service.SessionManager
	gate       *security.AdminGate
	production bool
}

func NewSessionHandler(sessions service.SessionManager, gate *security.AdminGate, production bool) *SessionHandler {
	return &SessionHandler{sessions: sessions, gate: gate, production: production}
}

// Dispatch is the single typed entry point for the serverless shape:
// POST /api/v1/session?action=<op>. Admin actions pass through the
// same gate middleware the listener routes use.
func (h *SessionHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	action, ok := ParseAction(r.URL.Query().Get("action"))
	if !ok {
		response.Error(w, http.StatusBadRequest, "unknown action")
		return
	}
	var next http.Handler
	switch action {
	case ActionStoreRefresh:
		next = http.HandlerFunc(h.StoreRefresh)
	case ActionRefresh:
		next = http.HandlerFunc(h.Refresh)
	case ActionClearRefresh:
		next = http.HandlerFunc(h.ClearRefresh)
	case ActionRevokeSession:
		next = http.HandlerFunc(h.RevokeSession)
	case ActionRevokeUserSessions:
		next = http.HandlerFunc(h.RevokeUserSessions)
	case ActionCleanup:
		next = http.HandlerFunc(h.Cleanup)
	}
	if action.IsAdmin() {
		next = middleware.RequireAdmin(h.gate)(next)
	}
	next.ServeHTTP(w, r)
}

type storeRefreshRequest struct {
	UserID       string `json:"userId"`
	RefreshToken string `json:"refresh_token"`
}

func (h *SessionHandler) StoreRefresh(w http.ResponseWriter, r *http.Request) {
	var req storeRefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sessionID, err := h.sessions.StoreRefresh(r.Context(), req.UserID, req.RefreshToken)
	if err != nil {
		if errors.Is(err, service.ErrMissingInput) {
			response.Error(w, http.StatusBadRequest, "userId and refresh_token are required")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to store session")
		return
	}
	observability.Audit(r, "session.store", "user_id", req.UserID, "session_id", sessionID)
	h.issueSessionCookie(w, sessionID)
	response.JSON(w, http.StatusOK, map[string]any{"ok": true, "session_id": sessionID})
}

func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sessionID := security.GetCookie(r, SessionCookieName)
	if sessionID == "" {
		response.Error(w, http.StatusUnauthorized, "missing session")
		return
	}
	result, err := h.sessions.Refresh(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidSession) {
			response.Error(w, http.StatusUnauthorized, "invalid session")
			return
		}
		response.Error(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func (h *SessionHandler) ClearRefresh(w http.ResponseWriter, r *http.Request) {
	sessionID := security.GetCookie(r, SessionCookieName)
	// The cookie is cleared unconditionally so a confused client state
	// can always be reset, even when no session was found.
	h.clearSessionCookie(w)
	if err := h.sessions.ClearRefresh(r.Context(), sessionID); err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	if sessionID != "" {
		observability.Audit(r, "session.clear", "session_id", sessionID)
	}
	response.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type revokeSessionRequest struct {
	SessionID string `json:"session_id"`
}

func (h *SessionHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	var req revokeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
		response.Error(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if err := h.sessions.RevokeSession(r.Context(), req.SessionID); err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to revoke session")
		return
	}
	h.auditAdmin(r, "session.revoke", "session_id", req.SessionID)
	response.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type revokeUserSessionsRequest struct {
	UserID string `json:"userId"`
}

func (h *SessionHandler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	var req revokeUserSessionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		response.Error(w, http.StatusBadRequest, "userId is required")
		return
	}
	count, err := h.sessions.RevokeUserSessions(r.Context(), req.UserID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to revoke user sessions")
		return
	}
	h.auditAdmin(r, "session.revoke_user", "user_id", req.UserID, "revoked", count)
	response.JSON(w, http.StatusOK, map[string]any{"ok": true})
}

type cleanupRequest struct {
	Days int `json:"days"`
}

func (h *SessionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.Body != nil {
		// Body is optional; days defaults to the retention window.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	deleted, err := h.sessions.Cleanup(r.Context(), req.Days)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "failed to clean up sessions")
		return
	}
	h.auditAdmin(r, "session.cleanup", "days", req.Days, "deleted", deleted)
	response.JSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": deleted})
}

func (h *SessionHandler) issueSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.production,
	})
}

func (h *SessionHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   h.production,
	})
}

func (h *SessionHandler) auditAdmin(r *http.Request, event string, attrs ...any) {
	if d, ok := middleware.AdminDecisionFromContext(r.Context()); ok {
		attrs = append(attrs, "admin_method", d.Method)
		if d.Subject != "" {
			attrs = append(attrs, "admin_subject", d.Subject)
		}
	}
	observability.Audit(r, event, attrs...)
}
