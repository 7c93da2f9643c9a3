package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

func newTestLimiter(t *testing.T, limits Limits) (*redisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	logg, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	lim, err := NewRedisLimiter(logg, rdb, limits)
	if err != nil {
		t.Fatalf("NewRedisLimiter: %v", err)
	}
	return lim.(*redisLimiter), mr
}

func TestUserWindowExhaustsAndDenies(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{Free: 3, Pro: 600, Enterprise: 6000, PerIP: 300})
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.AllowUser(ctx, "u1", types.TierFree)
		if err != nil {
			t.Fatalf("AllowUser call %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("call %d denied inside the window", i)
		}
		if res.Limit != 3 {
			t.Fatalf("Limit = %d, want 3", res.Limit)
		}
		if res.Remaining != 3-i {
			t.Fatalf("call %d Remaining = %d, want %d", i, res.Remaining, 3-i)
		}
	}

	res, err := l.AllowUser(ctx, "u1", types.TierFree)
	if err != nil {
		t.Fatalf("AllowUser over limit: %v", err)
	}
	if res.Allowed {
		t.Fatal("4th call allowed past a limit of 3")
	}
	if res.Remaining != 0 {
		t.Fatalf("Remaining = %d, want 0", res.Remaining)
	}
	if res.RetryAfter < 1 || res.RetryAfter > 60 {
		t.Fatalf("RetryAfter = %d, want within (0, 60]", res.RetryAfter)
	}
}

func TestAdminBypassesCounters(t *testing.T) {
	l, mr := newTestLimiter(t, Limits{Free: 1, PerIP: 1})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		res, err := l.AllowUser(ctx, "root", types.TierAdmin)
		if err != nil {
			t.Fatalf("AllowUser admin: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("admin denied on call %d", i+1)
		}
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Fatalf("admin traffic wrote counters: %v", keys)
	}
}

func TestUnknownTierGetsStrictestBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{Free: 2, Pro: 10, Enterprise: 10, PerIP: 10})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, err := l.AllowUser(ctx, "u2", "platinum"); err != nil || !res.Allowed {
			t.Fatalf("call %d: res=%+v err=%v", i+1, res, err)
		}
	}
	res, err := l.AllowUser(ctx, "u2", "platinum")
	if err != nil {
		t.Fatalf("AllowUser: %v", err)
	}
	if res.Allowed || res.Limit != 2 {
		t.Fatalf("unknown tier res = %+v, want denied at free limit 2", res)
	}
}

func TestWindowRollsOver(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{Free: 1, PerIP: 300})
	ctx := context.Background()
	base := time.Date(2026, 8, 10, 12, 0, 30, 0, time.UTC)
	now := base
	l.now = func() time.Time { return now }

	if res, _ := l.AllowUser(ctx, "u3", types.TierFree); !res.Allowed {
		t.Fatal("first call denied")
	}
	res, _ := l.AllowUser(ctx, "u3", types.TierFree)
	if res.Allowed {
		t.Fatal("second call allowed past limit 1")
	}
	if res.RetryAfter != 30 {
		t.Fatalf("RetryAfter = %d, want 30 at half-window", res.RetryAfter)
	}

	now = base.Add(31 * time.Second)
	if res, _ := l.AllowUser(ctx, "u3", types.TierFree); !res.Allowed {
		t.Fatal("call denied after the window rolled over")
	}
}

func TestIPCounterIsIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, Limits{Free: 100, PerIP: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if res, err := l.AllowIP(ctx, "203.0.113.9"); err != nil || !res.Allowed {
			t.Fatalf("AllowIP call %d: res=%+v err=%v", i+1, res, err)
		}
	}
	res, err := l.AllowIP(ctx, "203.0.113.9")
	if err != nil {
		t.Fatalf("AllowIP: %v", err)
	}
	if res.Allowed {
		t.Fatal("3rd request from IP allowed past limit 2")
	}

	// The user budget is untouched by IP denials, and other IPs are clean.
	if res, _ := l.AllowUser(ctx, "u4", types.TierFree); !res.Allowed {
		t.Fatal("user denied after unrelated IP breach")
	}
	if res, _ := l.AllowIP(ctx, "203.0.113.10"); !res.Allowed {
		t.Fatal("second IP denied on first request")
	}
}

func TestCounterExpiresWithWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Limits{Free: 5, PerIP: 300})
	ctx := context.Background()

	if _, err := l.AllowUser(ctx, "u5", types.TierFree); err != nil {
		t.Fatalf("AllowUser: %v", err)
	}
	if len(mr.Keys()) != 1 {
		t.Fatalf("keys = %v, want one counter", mr.Keys())
	}
	mr.FastForward(window + time.Second)
	if len(mr.Keys()) != 0 {
		t.Fatalf("counter survived its window: %v", mr.Keys())
	}
}
