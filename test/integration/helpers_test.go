package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fitpulse/session-service/internal/http/handler"
	"github.com/fitpulse/session-service/internal/http/router"
	"github.com/fitpulse/session-service/internal/identity"
	"github.com/fitpulse/session-service/internal/repository"
	"github.com/fitpulse/session-service/internal/security"
	"github.com/fitpulse/session-service/internal/service"
)

const adminToken = "integration-admin-token"

// fakeProvider mimics the identity provider's refresh grant. Every
// successful refresh rotates the token; tokens it never issued (or
// that were rotated away) are rejected.
type fakeProvider struct {
	mu      sync.Mutex
	valid   map[string]bool
	counter int
}

func newFakeProvider(seedTokens ...string) *fakeProvider {
	p := &fakeProvider{valid: map[string]bool{}}
	for _, tok := range seedTokens {
		p.valid[tok] = true
	}
	return p
}

func (p *fakeProvider) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.valid[body.RefreshToken] {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		delete(p.valid, body.RefreshToken)
		p.counter++
		next := fmt.Sprintf("rotated-rt-%d", p.counter)
		p.valid[next] = true
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  fmt.Sprintf("at-%d", p.counter),
			"refresh_token": next,
			"expires_in":    3600,
		})
	}
}

type testServer struct {
	BaseURL  string
	Client   *http.Client
	Provider *fakeProvider
	Store    repository.SessionRepository
}

func newSessionTestServer(t *testing.T, seedTokens ...string) (*testServer, func()) {
	t.Helper()

	provider := newFakeProvider(seedTokens...)
	providerSrv := httptest.NewServer(provider.handler())

	store := repository.NewMemorySessionRepository()
	cipher, err := security.NewTokenCipher("integration-secret")
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	refresher := identity.NewSupabaseClient(providerSrv.URL, "service-key", 5*time.Second)
	sessions := service.NewSessionService(store, cipher, refresher, 30)
	gate := security.NewAdminGate(adminToken, "")

	srv := httptest.NewServer(router.NewRouter(router.Dependencies{
		SessionHandler:      handler.NewSessionHandler(sessions, gate, false),
		AdminGate:           gate,
		Store:               store,
		SessionRateLimitRPM: 1000,
		AdminRateLimitRPM:   1000,
	}))

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	ts := &testServer{
		BaseURL:  srv.URL,
		Client:   &http.Client{Jar: jar, Timeout: 10 * time.Second},
		Provider: provider,
		Store:    store,
	}
	return ts, func() {
		srv.Close()
		providerSrv.Close()
	}
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, target, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("decode %q: %v", string(raw), err)
		}
	}
	return resp, decoded
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
