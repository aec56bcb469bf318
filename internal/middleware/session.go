package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/service"
)

// SessionCookie is the cookie carrying the session token for browser clients.
const SessionCookie = "session"

// IdentityResolver turns a session token into the persisted user.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*model.User, error)
}

// SessionConfig holds configuration for the session middleware.
type SessionConfig struct {
	Logger     *slog.Logger
	Identities IdentityResolver
}

// Session returns a middleware that authenticates requests from a bearer
// token or the session cookie and stores the user in the request context.
// Requests without a valid session are answered with 401.
func Session(cfg SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", "missing_token"),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			user, err := cfg.Identities.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, service.ErrUnauthenticated) {
					cfg.Logger.Warn("authentication failed",
						slog.String("reason", "invalid_token"),
						slog.String("endpoint", r.Method+" "+r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
					)
					writeAuthError(w)
					return
				}
				cfg.Logger.Error("identity resolution failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				return
			}

			r = r.WithContext(auth.ContextWithUser(r.Context(), user))
			noteUser(r)
			next.ServeHTTP(w, r)
		})
	}
}

// extractSessionToken prefers "Authorization: Bearer <token>" over the cookie.
func extractSessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// writeAuthError uses the same message for every failure to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
}
