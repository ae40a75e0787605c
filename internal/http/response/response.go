package response

import (
	"encoding/json"
	"net/http"
)

// JSON writes v as the response body. Payloads are written as-is, not
// wrapped in an envelope: clients of the session protocol depend on
// the exact body shapes (e.g. {"access_token","expires_at"}).
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Error writes a {message} body with generic text. Internal error
// detail (stack traces, provider bodies, secret material) never goes
// through here.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"message": message})
}
