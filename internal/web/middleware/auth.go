package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/domainkeeper/internal/auth"
	"github.com/JonMunkholm/domainkeeper/internal/logging"
)

// BearerAuth returns middleware that validates the Authorization bearer token
// and stores the resulting user on the request context. Requests without a
// valid token are rejected with 401.
func BearerAuth(authn *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authn.FromRequest(r)
			if err != nil {
				code, msg := "AUTH_INVALID_TOKEN", "invalid token"
				if errors.Is(err, auth.ErrMissingToken) {
					code, msg = "AUTH_MISSING_TOKEN", "missing bearer token"
				}
				slog.Warn("auth: rejected request",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				writeAuthError(w, http.StatusUnauthorized, msg, code)
				return
			}

			ctx := auth.WithUser(r.Context(), user)
			ctx = logging.WithAttrs(ctx, "user_id", user.ID, "tenant_id", user.TenantID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated users whose role is not in roles.
// It must run after BearerAuth.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := auth.UserFromContext(r.Context())
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token", "AUTH_MISSING_TOKEN")
				return
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			logging.FromContext(r.Context()).Warn("auth: role not permitted",
				"path", r.URL.Path,
				"role", user.Role,
			)
			writeAuthError(w, http.StatusForbidden, "Forbidden", "AUTH001")
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
