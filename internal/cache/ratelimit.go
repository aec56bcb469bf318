package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Budget is a family of token buckets sharing a key prefix. IdleTTL is how
// long an untouched bucket survives; it must exceed the time to refill.
type Budget struct {
	Prefix  string
	IdleTTL time.Duration
}

var (
	// UserBudget covers every authenticated API request.
	UserBudget = Budget{Prefix: "ratelimit:user:", IdleTTL: 2 * time.Minute}
	// IPBudget covers public endpoints such as the pause link.
	IPBudget = Budget{Prefix: "ratelimit:ip:", IdleTTL: 10 * time.Second}
	// CheckInBudget covers check-in writes per owner and experiment. A
	// reflection is recorded about once a day, so buckets refill slowly.
	CheckInBudget = Budget{Prefix: "ratelimit:checkin:", IdleTTL: 2 * time.Hour}
)

// RateLimitResult is the outcome of taking one token from a bucket.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// takeTokenScript refills a bucket by elapsed time and takes one token.
// Returns {allowed, retry_after_seconds, remaining}.
var takeTokenScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local state = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(state[1]) or burst
	local last = tonumber(state[2]) or now

	tokens = math.min(burst, tokens + ((now - last) * rate))

	local allowed = 0
	local wait = 0
	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		wait = math.ceil((1 - tokens) / rate)
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, wait, math.floor(tokens)}
`)

// CheckUserRateLimit takes a token from the user's request bucket.
// A zero ratePerMinute disables the limit.
func (c *Cache) CheckUserRateLimit(ctx context.Context, userID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute <= 0 {
		return unlimited(burst, time.Minute), nil
	}
	return c.take(ctx, UserBudget, userID, float64(ratePerMinute)/60, burst)
}

// CheckIPRateLimit takes a token from the client IP's bucket. The IP is
// hashed before it becomes part of a key.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerSecond, burst int) (*RateLimitResult, error) {
	if ratePerSecond <= 0 {
		return unlimited(burst, time.Second), nil
	}
	return c.take(ctx, IPBudget, hashIP(ip), float64(ratePerSecond), burst)
}

// CheckCheckInRateLimit takes a token from the bucket guarding check-in
// writes by userID to experimentID. Same-day rewrites count against it.
func (c *Cache) CheckCheckInRateLimit(ctx context.Context, userID, experimentID string, perHour, burst int) (*RateLimitResult, error) {
	if perHour <= 0 {
		return unlimited(burst, time.Hour), nil
	}
	return c.take(ctx, CheckInBudget, CheckInSubject(userID, experimentID), float64(perHour)/3600, burst)
}

// CheckInSubject is the bucket subject for one owner's writes to one experiment.
func CheckInSubject(userID, experimentID string) string {
	return userID + ":" + experimentID
}

func (c *Cache) take(ctx context.Context, budget Budget, subject string, rate float64, burst int) (*RateLimitResult, error) {
	now := time.Now()

	res, err := takeTokenScript.Run(ctx, c.client,
		[]string{budget.Prefix + subject},
		rate, burst, now.Unix(), int(budget.IdleTTL.Seconds()),
	).Int64Slice()
	if err != nil {
		// Redis trouble must not lock users out.
		return unlimited(burst, time.Minute), nil
	}

	return &RateLimitResult{
		Allowed:    res[0] == 1,
		Remaining:  res[2],
		ResetAt:    now.Add(time.Duration(float64(time.Second) / rate)),
		RetryAfter: time.Duration(res[1]) * time.Second,
	}, nil
}

func unlimited(burst int, window time.Duration) *RateLimitResult {
	return &RateLimitResult{
		Allowed:   true,
		Remaining: int64(burst),
		ResetAt:   time.Now().Add(window),
	}
}

// hashIP returns 16 hex chars of the IP's SHA-256.
func hashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:8])
}
