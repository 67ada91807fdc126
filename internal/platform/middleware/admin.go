package middleware

import (
	"log/slog"
	"net/http"

	"tapcard/pkg/secrets"
)

// AdminKeyHeader carries the operator API key for admin routes.
const AdminKeyHeader = "X-Admin-Key"

// AdminActorHeader names the operator for audit attribution.
const AdminActorHeader = "X-Admin-Actor"

// RequireAdminKey gates admin routes behind a bcrypt-hashed API key. An empty
// hash disables the admin surface entirely.
func RequireAdminKey(keyHash string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AdminKeyHeader)
			if keyHash == "" || secrets.Verify(key, keyHash) != nil {
				logger.WarnContext(r.Context(), "admin key rejected",
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"FORBIDDEN","message":"admin key required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
