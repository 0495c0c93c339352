package core

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"dailybrief/internal/types"
)

// TriggerAuthMiddleware guards the run trigger endpoint with a single
// shared bearer token. Only the bcrypt hash of the token is configured;
// the plaintext lives in the cron/EventBridge caller's secret store.
//
// Failure modes return 401 with distinct codes:
//   - auth_token_missing: no Authorization header or empty Bearer value
//   - auth_token_invalid: token does not match the configured hash
func (s *Server) TriggerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authorization header is required", nil))
			return
		}

		token := extractBearerToken(authHeader)
		if token == "" {
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Bearer token is required", nil))
			return
		}

		hash := s.Config.Security.TriggerTokenHash.Unmask()
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			s.Logger.WarnContext(r.Context(), "trigger token rejected",
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid trigger token", nil))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractBearerToken parses an Authorization header value of the form
// "Bearer <token>" (scheme case-insensitive) and returns the token, or the
// empty string when the header does not match.
func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
