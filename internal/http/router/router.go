package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fitpulse/session-service/internal/http/handler"
	"github.com/fitpulse/session-service/internal/http/middleware"
	"github.com/fitpulse/session-service/internal/http/response"
	"github.com/fitpulse/session-service/internal/security"
)

// Pinger is the readiness probe over the session store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	SessionHandler *handler.SessionHandler
	AdminGate      *security.AdminGate
	Store          Pinger

	SessionRateLimitRPM int
	AdminRateLimitRPM   int
	// SessionLimiter/AdminLimiter override the default local limiter,
	// e.g. with the redis-backed one.
	SessionLimiter func(http.Handler) http.Handler
	AdminLimiter   func(http.Handler) http.Handler

	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)

	sessionLimiter := dep.SessionLimiter
	if sessionLimiter == nil {
		sessionLimiter = middleware.NewRateLimiter(
			middleware.NewLocalFixedWindowLimiter(dep.SessionRateLimitRPM, time.Minute), "session", time.Minute,
		).Middleware()
	}
	adminLimiter := dep.AdminLimiter
	if adminLimiter == nil {
		adminLimiter = middleware.NewRateLimiter(
			middleware.NewLocalFixedWindowLimiter(dep.AdminRateLimitRPM, time.Minute), "admin", time.Minute,
		).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Store != nil {
			if err := dep.Store.Ping(r.Context()); err != nil {
				response.Error(w, http.StatusServiceUnavailable, "session store not ready")
				return
			}
		}
		response.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			// Serverless shape: one endpoint, operation selected by
			// the action parameter. Admin actions are gated inside
			// Dispatch.
			r.With(sessionLimiter).Post("/", dep.SessionHandler.Dispatch)

			// Listener shape: one route per operation.
			r.With(sessionLimiter).Post("/store", dep.SessionHandler.StoreRefresh)
			r.With(sessionLimiter).Post("/refresh", dep.SessionHandler.Refresh)
			r.With(sessionLimiter).Post("/clear", dep.SessionHandler.ClearRefresh)
		})
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(dep.AdminGate))
			r.Use(adminLimiter)
			r.Post("/revoke_session", dep.SessionHandler.RevokeSession)
			r.Post("/revoke_user_sessions", dep.SessionHandler.RevokeUserSessions)
			r.Post("/cleanup_refresh_tokens", dep.SessionHandler.Cleanup)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
