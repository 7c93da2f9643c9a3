package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/envutil"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

const window = time.Minute

// Limits holds the per-minute allowances. Zero means unlimited.
type Limits struct {
	Free       int
	Pro        int
	Enterprise int
	PerIP      int
}

// LimitsFromEnv returns the default allowances, overridable per deploy. The
// contract stays fixed: admin bypasses, free is strictest, windows are one
// minute.
func LimitsFromEnv() Limits {
	return Limits{
		Free:       envutil.Int("RATE_LIMIT_FREE_PER_MIN", 60),
		Pro:        envutil.Int("RATE_LIMIT_PRO_PER_MIN", 600),
		Enterprise: envutil.Int("RATE_LIMIT_ENTERPRISE_PER_MIN", 6000),
		PerIP:      envutil.Int("RATE_LIMIT_IP_PER_MIN", 300),
	}
}

// Result describes one window check.
type Result struct {
	Allowed    bool
	Limit      int // 0 means unlimited
	Remaining  int
	RetryAfter int // seconds until the window resets; 0 when allowed
}

// Limiter implements fixed one-minute windows over shared counters so every
// ingress replica sees the same budget. Callers treat a returned error as
// "allow": a counter outage must not take the API down with it.
type Limiter interface {
	// AllowUser checks the per-user budget for the user's tier. Admin and
	// unknown-zero limits bypass without touching the counter.
	AllowUser(ctx context.Context, userKey, tier string) (*Result, error)

	// AllowIP checks the universal per-IP budget, applied whether or not
	// the request is authenticated.
	AllowIP(ctx context.Context, ip string) (*Result, error)
}

type redisLimiter struct {
	log    *logger.Logger
	rdb    *goredis.Client
	limits Limits
	now    func() time.Time
}

func NewRedisLimiter(baseLog *logger.Logger, rdb *goredis.Client, limits Limits) (Limiter, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	return &redisLimiter{
		log:    baseLog.With("service", "RateLimiter"),
		rdb:    rdb,
		limits: limits,
		now:    time.Now,
	}, nil
}

func (l *redisLimiter) AllowUser(ctx context.Context, userKey, tier string) (*Result, error) {
	limit := l.tierLimit(tier)
	if limit <= 0 {
		return &Result{Allowed: true}, nil
	}
	return l.hit(ctx, "user:"+userKey, limit)
}

func (l *redisLimiter) AllowIP(ctx context.Context, ip string) (*Result, error) {
	if l.limits.PerIP <= 0 || ip == "" {
		return &Result{Allowed: true}, nil
	}
	return l.hit(ctx, "ip:"+ip, l.limits.PerIP)
}

func (l *redisLimiter) tierLimit(tier string) int {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case types.TierAdmin:
		return 0
	case types.TierEnterprise:
		return l.limits.Enterprise
	case types.TierPro:
		return l.limits.Pro
	default:
		// Unrecognized tiers get the strictest budget.
		return l.limits.Free
	}
}

// hit increments the caller's counter for the current window and compares it
// to the limit. Window keys carry the window start, so a counter expires with
// its window and never leaks into the next one.
func (l *redisLimiter) hit(ctx context.Context, scope string, limit int) (*Result, error) {
	now := l.now()
	windowStart := now.Truncate(window)
	key := fmt.Sprintf("ratelimit:%s:%d", scope, windowStart.Unix())

	pipe := l.rdb.TxPipeline()
	count := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit counter %s: %w", scope, err)
	}

	n := int(count.Val())
	res := &Result{Limit: limit, Remaining: limit - n}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if n > limit {
		res.RetryAfter = retryAfterSeconds(now, windowStart)
		return res, nil
	}
	res.Allowed = true
	return res, nil
}

func retryAfterSeconds(now, windowStart time.Time) int {
	remaining := windowStart.Add(window).Sub(now)
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
