package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/selah/selah/internal/auth"
	"github.com/selah/selah/internal/cache"
)

// Limiter checks token buckets. *cache.Cache implements it.
type Limiter interface {
	CheckUserRateLimit(ctx context.Context, userID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
	CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*cache.RateLimitResult, error)
	CheckCheckInRateLimit(ctx context.Context, userID, experimentID string, perHour, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter Limiter
	Enabled bool

	// Per authenticated user.
	UserRequestsPerMinute int
	UserBurst             int

	// Per client IP, for unauthenticated endpoints.
	IPRequestsPerSecond int
	IPBurst             int

	// Check-in writes per owner and experiment.
	CheckInsPerHour int
	CheckInBurst    int
}

// RateLimitUser limits requests per authenticated user.
// Must be applied after Session. Limiter failures fail open.
func RateLimitUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			if !cfg.Enabled || userID == "" || cfg.UserRequestsPerMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckUserRateLimit(r.Context(), userID, cfg.UserRequestsPerMinute, cfg.UserBurst)
			if err != nil {
				cfg.Logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("user_id", userID),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, cfg.UserRequestsPerMinute, result.Remaining, result.ResetAt)
			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "user"),
					slog.String("user_id", userID),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeRateLimitError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitCheckIns limits check-in writes per user and experiment, on top
// of the general user budget. The route must carry an {id} parameter and sit
// behind Session. Limiter failures fail open.
func RateLimitCheckIns(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := auth.UserIDFromContext(r.Context())
			experimentID := chi.URLParam(r, "id")
			if !cfg.Enabled || userID == "" || experimentID == "" || cfg.CheckInsPerHour <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.CheckCheckInRateLimit(r.Context(), userID, experimentID, cfg.CheckInsPerHour, cfg.CheckInBurst)
			if err != nil {
				cfg.Logger.Error("check-in rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("user_id", userID),
					slog.String("experiment_id", experimentID),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "check_in"),
					slog.String("user_id", userID),
					slog.String("experiment_id", experimentID),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeRateLimitError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitIP limits requests per client IP. Limiter failures fail open.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled || cfg.IPRequestsPerSecond <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			ip := getClientIP(r)
			result, err := cfg.Limiter.CheckIPRateLimit(r.Context(), ip, cfg.IPRequestsPerSecond, cfg.IPBurst)
			if err != nil {
				cfg.Logger.Error("IP rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("ip", ip),
				)
				next.ServeHTTP(w, r)
				return
			}

			if !result.Allowed {
				cfg.Logger.Warn("rate limit exceeded",
					slog.String("type", "ip"),
					slog.String("ip", ip),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int64("retry_after_seconds", int64(result.RetryAfter.Seconds())),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeRateLimitError(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(retryAfter.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded, retry after "+strconv.Itoa(seconds)+" seconds")
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address without its port.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
