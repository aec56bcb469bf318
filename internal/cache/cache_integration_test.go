//go:build integration

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/selah/selah/internal/model"
	"github.com/selah/selah/internal/testutil"
)

func newIntegrationCache(t *testing.T) *Cache {
	t.Helper()
	ctx := context.Background()

	url := testutil.RequireEnv(t, "REDIS_URL")
	c, err := New(ctx, url)
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return c
}

func TestIdentityCache(t *testing.T) {
	ctx := context.Background()
	c := newIntegrationCache(t)

	user := &model.User{ID: "u1", AuthID: "auth|1", Email: "a@example.com", AccountKind: model.AccountIndividual, Role: model.RoleUser}

	got, err := c.GetUser(ctx, "token-1")
	if err != nil || got != nil {
		t.Fatalf("GetUser() before set = %v, %v; want miss", got, err)
	}

	if err := c.SetUser(ctx, "token-1", user); err != nil {
		t.Fatalf("SetUser() error = %v", err)
	}
	got, err = c.GetUser(ctx, "token-1")
	if err != nil || got == nil {
		t.Fatalf("GetUser() = %v, %v; want hit", got, err)
	}
	if got.AuthID != "auth|1" || got.Email != "a@example.com" {
		t.Errorf("GetUser() = %+v", got)
	}

	if err := c.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatalf("InvalidateUser() error = %v", err)
	}
	if got, _ := c.GetUser(ctx, "token-1"); got != nil {
		t.Error("user still cached after InvalidateUser")
	}
}

func TestReviewCache(t *testing.T) {
	ctx := context.Background()
	rc := NewReviewCache(newIntegrationCache(t), time.Minute)

	if _, err := rc.Get(ctx, "e1", ReviewSummary); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("Get() error = %v, want ErrCacheMiss", err)
	}
	if err := rc.Set(ctx, "e1", ReviewSummary, []byte(`{"experimentId":"e1"}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := rc.Set(ctx, "e1", ReviewTrends, []byte(`{}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := rc.Get(ctx, "e1", ReviewSummary)
	if err != nil || string(data) != `{"experimentId":"e1"}` {
		t.Fatalf("Get() = %s, %v", data, err)
	}

	if err := rc.Invalidate(ctx, "e1"); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	for _, kind := range []string{ReviewSummary, ReviewTrends} {
		if _, err := rc.Get(ctx, "e1", kind); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Get(%s) after Invalidate error = %v, want ErrCacheMiss", kind, err)
		}
	}
}

func TestLock(t *testing.T) {
	ctx := context.Background()
	c := newIntegrationCache(t)
	key := "lock:reminders:2024-03-10"

	token, ok, err := c.Acquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v", ok, err)
	}

	if _, ok, err := c.Acquire(ctx, key, time.Minute); err != nil || ok {
		t.Fatalf("second Acquire() = %v, %v; want held", ok, err)
	}

	// A stale token must not free the lock.
	if err := c.Release(ctx, key, "not-the-token"); err != nil {
		t.Fatalf("Release(stale) error = %v", err)
	}
	if _, ok, _ := c.Acquire(ctx, key, time.Minute); ok {
		t.Fatal("lock released by a stale token")
	}

	if err := c.Release(ctx, key, token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, ok, err := c.Acquire(ctx, key, time.Minute); err != nil || !ok {
		t.Fatalf("Acquire() after release = %v, %v", ok, err)
	}
}

func TestUserRateLimit(t *testing.T) {
	ctx := context.Background()
	c := newIntegrationCache(t)

	var allowed int
	for i := 0; i < 10; i++ {
		res, err := c.CheckUserRateLimit(ctx, "u1", 60, 3)
		if err != nil {
			t.Fatalf("CheckUserRateLimit() error = %v", err)
		}
		if res.Allowed {
			allowed++
		}
	}
	if allowed > 4 {
		t.Errorf("allowed = %d, want about burst (3)", allowed)
	}
}

func TestCheckInRateLimit_PerExperiment(t *testing.T) {
	ctx := context.Background()
	c := newIntegrationCache(t)

	for i := 0; i < 2; i++ {
		res, err := c.CheckCheckInRateLimit(ctx, "u1", "exp1", 1, 2)
		if err != nil || !res.Allowed {
			t.Fatalf("check-in %d = %+v, %v; want allowed", i, res, err)
		}
	}

	res, err := c.CheckCheckInRateLimit(ctx, "u1", "exp1", 1, 2)
	if err != nil {
		t.Fatalf("CheckCheckInRateLimit() error = %v", err)
	}
	if res.Allowed {
		t.Fatal("third check-in within the burst window should be limited")
	}
	if res.RetryAfter < time.Minute {
		t.Errorf("RetryAfter = %v, want the slow hourly refill", res.RetryAfter)
	}

	other, err := c.CheckCheckInRateLimit(ctx, "u1", "exp2", 1, 2)
	if err != nil || !other.Allowed {
		t.Errorf("other experiment = %+v, %v; want its own bucket", other, err)
	}
}
