package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (bool, error) {
	return true, errors.New("backend gone")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doLimited(t *testing.T, mw func(http.Handler) http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/session/refresh", nil)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterAllowsWithinLimit(t *testing.T) {
	mw := NewRateLimiter(NewLocalFixedWindowLimiter(3, time.Minute), "session", time.Minute).Middleware()
	for i := 0; i < 3; i++ {
		if rec := doLimited(t, mw, "10.0.0.1:1234"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := doLimited(t, mw, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
}

func TestRateLimiterKeysByClientIP(t *testing.T) {
	mw := NewRateLimiter(NewLocalFixedWindowLimiter(1, time.Minute), "session", time.Minute).Middleware()
	if rec := doLimited(t, mw, "10.0.0.1:1234"); rec.Code != http.StatusOK {
		t.Fatalf("first client blocked: %d", rec.Code)
	}
	if rec := doLimited(t, mw, "10.0.0.2:1234"); rec.Code != http.StatusOK {
		t.Fatalf("second client should have its own window, got %d", rec.Code)
	}
	if rec := doLimited(t, mw, "10.0.0.1:5678"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP different port should share the window, got %d", rec.Code)
	}
}

func TestRateLimiterFailsClosedOnBackendError(t *testing.T) {
	mw := NewRateLimiter(errLimiter{}, "session", time.Minute).Middleware()
	rec := doLimited(t, mw, "10.0.0.1:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("backend error must deny, got %d", rec.Code)
	}
}

func TestLocalFixedWindowLimiterResets(t *testing.T) {
	l := NewLocalFixedWindowLimiter(1, 10*time.Millisecond)
	if ok, _ := l.Allow(context.Background(), "k"); !ok {
		t.Fatal("first request denied")
	}
	if ok, _ := l.Allow(context.Background(), "k"); ok {
		t.Fatal("second request in window allowed")
	}
	time.Sleep(20 * time.Millisecond)
	if ok, _ := l.Allow(context.Background(), "k"); !ok {
		t.Fatal("request after window expired denied")
	}
}

func newRedisClientForTest(t *testing.T) redis.UniversalClient {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	client := newRedisClientForTest(t)
	l := NewRedisFixedWindowLimiter(client, "test", 2, time.Minute)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "session:10.0.0.1")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i+1, ok, err)
		}
	}
	ok, err := l.Allow(ctx, "session:10.0.0.1")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if ok {
		t.Fatal("third request in window should be denied")
	}

	ok, err = l.Allow(ctx, "admin:10.0.0.1")
	if err != nil || !ok {
		t.Fatalf("independent key should be allowed: ok=%v err=%v", ok, err)
	}
}

func TestRedisFixedWindowLimiterErrorsWhenDown(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	srv.Close()

	l := NewRedisFixedWindowLimiter(client, "test", 2, time.Minute)
	if _, err := l.Allow(context.Background(), "k"); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
