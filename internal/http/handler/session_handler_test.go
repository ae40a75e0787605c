package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fitpulse/session-service/internal/security"
	"github.com/fitpulse/session-service/internal/service"
)

type fakeSessionManager struct {
	storeSessionID string
	storeErr       error
	refreshResult  *service.RefreshResult
	refreshErr     error
	clearErr       error
	revokeErr      error
	revokedUsers   []string
	revokedCount   int64
	cleanupDeleted int64
	cleanupErr     error

	lastStoreUserID  string
	lastStoreToken   string
	lastRefreshID    string
	lastClearID      string
	lastRevokedID    string
	lastCleanupDays  int
	refreshCallCount int
}

func (f *fakeSessionManager) StoreRefresh(_ context.Context, userID, refreshToken string) (string, error) {
	if userID == "" || refreshToken == "" {
		return "", service.ErrMissingInput
	}
	f.lastStoreUserID = userID
	f.lastStoreToken = refreshToken
	return f.storeSessionID, f.storeErr
}

func (f *fakeSessionManager) Refresh(_ context.Context, sessionID string) (*service.RefreshResult, error) {
	f.lastRefreshID = sessionID
	f.refreshCallCount++
	return f.refreshResult, f.refreshErr
}

func (f *fakeSessionManager) ClearRefresh(_ context.Context, sessionID string) error {
	f.lastClearID = sessionID
	return f.clearErr
}

func (f *fakeSessionManager) RevokeSession(_ context.Context, sessionID string) error {
	f.lastRevokedID = sessionID
	return f.revokeErr
}

func (f *fakeSessionManager) RevokeUserSessions(_ context.Context, userID string) (int64, error) {
	f.revokedUsers = append(f.revokedUsers, userID)
	return f.revokedCount, nil
}

func (f *fakeSessionManager) Cleanup(_ context.Context, days int) (int64, error) {
	f.lastCleanupDays = days
	return f.cleanupDeleted, f.cleanupErr
}

func newTestHandler(fake *fakeSessionManager, gate *security.AdminGate) *SessionHandler {
	if gate == nil {
		gate = security.NewAdminGate("", "")
	}
	return NewSessionHandler(fake, gate, false)
}

func postJSON(t *testing.T, h http.HandlerFunc, target string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", SessionCookieName)
	return nil
}

func TestStoreRefreshSetsCookieAndReturnsSessionID(t *testing.T) {
	fake := &fakeSessionManager{storeSessionID: "sess-1"}
	h := newTestHandler(fake, nil)

	rec := postJSON(t, h.StoreRefresh, "/api/v1/session/store", map[string]string{
		"userId":        "user-1",
		"refresh_token": "rt-abc",
	}, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["ok"] != true || body["session_id"] != "sess-1" {
		t.Fatalf("unexpected body: %v", body)
	}
	c := sessionCookie(t, rec)
	if c.Value != "sess-1" {
		t.Fatalf("cookie value = %q, want sess-1", c.Value)
	}
	if !c.HttpOnly || c.Path != "/" || c.SameSite != http.SameSiteStrictMode {
		t.Fatalf("cookie attributes wrong: %+v", c)
	}
	if c.MaxAge != sessionCookieMaxAge {
		t.Fatalf("cookie max age = %d, want %d", c.MaxAge, sessionCookieMaxAge)
	}
	if fake.lastStoreToken != "rt-abc" {
		t.Fatalf("service got token %q", fake.lastStoreToken)
	}
}

func TestStoreRefreshValidation(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, nil)

	cases := map[string]any{
		"missing user":  map[string]string{"refresh_token": "rt"},
		"missing token": map[string]string{"userId": "u"},
	}
	for name, body := range cases {
		rec := postJSON(t, h.StoreRefresh, "/api/v1/session/store", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/store", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.StoreRefresh(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed json: status = %d, want 400", rec.Code)
	}
}

func TestStoreRefreshStorageFailure(t *testing.T) {
	fake := &fakeSessionManager{storeErr: errors.New("db down")}
	h := newTestHandler(fake, nil)

	rec := postJSON(t, h.StoreRefresh, "/api/v1/session/store", map[string]string{
		"userId":        "user-1",
		"refresh_token": "rt-abc",
	}, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Fatal("internal error detail leaked to client")
	}
}

func TestRefreshReturnsOnlyAccessTokenAndExpiry(t *testing.T) {
	fake := &fakeSessionManager{refreshResult: &service.RefreshResult{AccessToken: "at-1", ExpiresAt: 1234}}
	h := newTestHandler(fake, nil)

	rec := postJSON(t, h.Refresh, "/api/v1/session/refresh", nil, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["access_token"] != "at-1" || out["expires_at"] != float64(1234) {
		t.Fatalf("unexpected body: %v", out)
	}
	if len(out) != 2 {
		t.Fatalf("refresh response must carry exactly access_token and expires_at, got %v", out)
	}
	if fake.lastRefreshID != "sess-1" {
		t.Fatalf("service got session id %q", fake.lastRefreshID)
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	fake := &fakeSessionManager{}
	h := newTestHandler(fake, nil)

	rec := postJSON(t, h.Refresh, "/api/v1/session/refresh", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if fake.refreshCallCount != 0 {
		t.Fatal("service must not be called without a session cookie")
	}
}

func TestRefreshErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid session", service.ErrInvalidSession, http.StatusUnauthorized},
		{"store unavailable", errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&fakeSessionManager{refreshErr: tc.err}, nil)
			rec := postJSON(t, h.Refresh, "/api/v1/session/refresh", nil, func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-x"})
			})
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestClearRefreshAlwaysClearsCookie(t *testing.T) {
	cases := []struct {
		name       string
		withCookie bool
		clearErr   error
		wantStatus int
	}{
		{"with session", true, nil, http.StatusOK},
		{"without cookie", false, nil, http.StatusOK},
		{"store failure", true, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeSessionManager{clearErr: tc.clearErr}
			h := newTestHandler(fake, nil)
			rec := postJSON(t, h.ClearRefresh, "/api/v1/session/clear", nil, func(r *http.Request) {
				if tc.withCookie {
					r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
				}
			})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			// The clearing Set-Cookie goes out even on failure.
			c := sessionCookie(t, rec)
			if c.Value != "" || c.MaxAge != -1 {
				t.Fatalf("expected expired empty cookie, got value=%q maxage=%d", c.Value, c.MaxAge)
			}
		})
	}
}

func TestRevokeSessionRequiresSessionID(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, nil)
	rec := postJSON(t, h.RevokeSession, "/api/v1/admin/revoke_session", map[string]string{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestRevokeUserSessionsReportsOK(t *testing.T) {
	fake := &fakeSessionManager{revokedCount: 3}
	h := newTestHandler(fake, nil)
	rec := postJSON(t, h.RevokeUserSessions, "/api/v1/admin/revoke_user_sessions", map[string]string{"userId": "user-9"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if len(fake.revokedUsers) != 1 || fake.revokedUsers[0] != "user-9" {
		t.Fatalf("service revoked %v", fake.revokedUsers)
	}
}

func TestCleanupReportsDeletedCount(t *testing.T) {
	fake := &fakeSessionManager{cleanupDeleted: 12}
	h := newTestHandler(fake, nil)

	rec := postJSON(t, h.Cleanup, "/api/v1/admin/cleanup_refresh_tokens", map[string]int{"days": 7}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["deleted"] != float64(12) {
		t.Fatalf("unexpected body: %v", body)
	}
	if fake.lastCleanupDays != 7 {
		t.Fatalf("service got days = %d", fake.lastCleanupDays)
	}
}

func TestCleanupWithoutBodyUsesDefaults(t *testing.T) {
	fake := &fakeSessionManager{cleanupDeleted: 0}
	h := newTestHandler(fake, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/cleanup_refresh_tokens", nil)
	rec := httptest.NewRecorder()
	h.Cleanup(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if fake.lastCleanupDays != 0 {
		t.Fatalf("expected default days 0, got %d", fake.lastCleanupDays)
	}
}

func TestParseAction(t *testing.T) {
	for _, raw := range []string{"store_refresh", "refresh", "clear_refresh", "revoke_session", "revoke_user_sessions", "cleanup_refresh_tokens"} {
		if _, ok := ParseAction(raw); !ok {
			t.Fatalf("ParseAction(%q) not recognized", raw)
		}
	}
	for _, raw := range []string{"", "store", "REFRESH", "delete_everything"} {
		if _, ok := ParseAction(raw); ok {
			t.Fatalf("ParseAction(%q) unexpectedly accepted", raw)
		}
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	h := newTestHandler(&fakeSessionManager{}, nil)
	rec := postJSON(t, h.Dispatch, "/api/v1/session?action=bogus", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDispatchRoutesPublicActions(t *testing.T) {
	fake := &fakeSessionManager{storeSessionID: "sess-d"}
	h := newTestHandler(fake, nil)

	rec := postJSON(t, h.Dispatch, "/api/v1/session?action=store_refresh", map[string]string{
		"userId":        "user-1",
		"refresh_token": "rt-1",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("store_refresh status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if sessionCookie(t, rec).Value != "sess-d" {
		t.Fatal("dispatch store_refresh did not set the session cookie")
	}
}

func TestDispatchGatesAdminActions(t *testing.T) {
	fake := &fakeSessionManager{}
	gate := security.NewAdminGate("super-secret", "")
	h := newTestHandler(fake, gate)

	rec := postJSON(t, h.Dispatch, "/api/v1/session?action=revoke_session", map[string]string{"session_id": "sess-1"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungated admin action status = %d, want 403", rec.Code)
	}
	if fake.lastRevokedID != "" {
		t.Fatal("revoke ran despite missing credential")
	}

	rec = postJSON(t, h.Dispatch, "/api/v1/session?action=revoke_session", map[string]string{"session_id": "sess-1"}, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer super-secret")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized admin action status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if fake.lastRevokedID != "sess-1" {
		t.Fatalf("service revoked %q", fake.lastRevokedID)
	}
}
