package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/resumind/resumind/pkg/config"
	"github.com/resumind/resumind/pkg/server/api"
)

// Auth returns a middleware that enforces token-based authentication.
//
// Behavior:
//   - Skips authentication for health endpoints (/healthz, /readyz)
//   - Skips authentication when cfg.AuthToken is empty
//   - Otherwise validates Authorization: Bearer <token>; the event stream
//     also accepts ?access_token=<token> because browsers cannot set headers
//     on an EventSource
//   - Returns 401 Unauthorized with JSON error if auth fails
func Auth(cfg config.ServerConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AuthToken == "" || isHealthEndpoint(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := extractBearerToken(r)
			if token == "" && r.Method == http.MethodGet && r.URL.Path == "/api/v1/events" {
				token = r.URL.Query().Get("access_token")
			}
			if token == "" {
				log.Warn().
					Str("component", "auth").
					Str("path", r.URL.Path).
					Msg("Missing authorization header")
				api.WriteJSONError(w, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED", "Missing authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AuthToken)) != 1 {
				log.Warn().
					Str("component", "auth").
					Str("path", r.URL.Path).
					Msg("Invalid token")
				api.WriteJSONError(w, http.StatusUnauthorized, "Unauthorized", "UNAUTHORIZED", "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// isHealthEndpoint checks if path is a health check endpoint
func isHealthEndpoint(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

// extractBearerToken extracts the token from Authorization: Bearer <token> header
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	// Expected format: "Bearer <token>"
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
