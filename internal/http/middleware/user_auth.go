package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wolfman30/patientpal/internal/auth"
	"github.com/wolfman30/patientpal/pkg/logging"
)

// RequireUser verifies the caller before any handler runs and stores the
// user id in the request context. The token is read from the Authorization
// header, or from the token query parameter for WebSocket clients that
// cannot set headers. An optional Username header must match the token.
func RequireUser(authn auth.Authenticator, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds := auth.Credentials{
				Token:    bearerToken(r),
				Username: r.Header.Get("Username"),
			}
			if creds.Username == "" {
				creds.Username = r.URL.Query().Get("username")
			}
			userID, err := authn.Authenticate(r.Context(), creds)
			if err != nil {
				logger.Info("auth: request refused", "path", r.URL.Path, "error", err)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
