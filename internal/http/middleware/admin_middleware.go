package middleware

import (
	"context"
	"net/http"

	"github.com/fitpulse/session-service/internal/http/response"
	"github.com/fitpulse/session-service/internal/observability"
	"github.com/fitpulse/session-service/internal/security"
)

type contextKey string

const AdminDecisionContextKey contextKey = "admin_decision"

// RequireAdmin guards session-revocation and cleanup operations. The
// gate fails closed: with neither a static admin token nor a signing
// secret configured, every request is denied regardless of contents.
func RequireAdmin(gate *security.AdminGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := gate.Authorize(security.BearerToken(r))
			observability.RecordAdminGateDecision(r.Context(), decision.Method, decision.Allowed)
			if !decision.Allowed {
				response.Error(w, http.StatusForbidden, "forbidden")
				return
			}
			ctx := context.WithValue(r.Context(), AdminDecisionContextKey, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AdminDecisionFromContext(ctx context.Context) (security.Decision, bool) {
	d, ok := ctx.Value(AdminDecisionContextKey).(security.Decision)
	return d, ok
}
