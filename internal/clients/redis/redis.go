package redis

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

// NewClient dials Redis from REDIS_URL (redis://... form) or REDIS_ADDR and
// verifies the connection. The queue, rate limiter, session store and cancel
// flags all share the returned client.
func NewClient(log *logger.Logger) (*goredis.Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	var opts *goredis.Options
	if raw := strings.TrimSpace(os.Getenv("REDIS_URL")); raw != "" {
		parsed, err := goredis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts = parsed
	} else {
		addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
		if addr == "" {
			return nil, fmt.Errorf("missing REDIS_URL or REDIS_ADDR")
		}
		opts = &goredis.Options{Addr: addr}
	}
	opts.DialTimeout = 5 * time.Second

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.With("client", "Redis").Info("Redis connected", "addr", opts.Addr)
	return rdb, nil
}
