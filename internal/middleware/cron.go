package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

// CronSecretHeader is the alternative header for schedulers that cannot set Authorization.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret guards scheduler endpoints with a shared secret presented as
// "Authorization: Bearer <secret>" or in the X-Cron-Secret header. An empty
// configured secret rejects every request.
func CronSecret(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	expected := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(CronSecretHeader)
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				presented = bearer
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
				logger.Warn("cron authentication failed",
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("ip", getClientIP(r)),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
