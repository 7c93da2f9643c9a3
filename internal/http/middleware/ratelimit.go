package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/inkpress-backend/internal/http/response"
	"github.com/yungbote/inkpress-backend/internal/platform/apierr"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/ratelimit"
)

// RateLimitIP enforces the per-IP window. It mounts on the whole API group,
// authenticated or not, so credential-stuffing a login form burns the same
// window as everything else. Limiter errors are logged and waved through;
// the counters must never take the API down.
func RateLimitIP(baseLog *logger.Logger, limiter ratelimit.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log := baseLog.With("middleware", "RateLimitIP")
	return func(c *gin.Context) {
		res, err := limiter.AllowIP(c.Request.Context(), c.ClientIP())
		if err != nil {
			log.Warn("IP rate check failed", "error", err)
		} else if !deliver(c, res) {
			return
		}
		c.Next()
	}
}

// RateLimitUser enforces the per-user tier window. Mount it after
// RequireAuth; without a resolved user it is a no-op.
func RateLimitUser(baseLog *logger.Logger, limiter ratelimit.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	log := baseLog.With("middleware", "RateLimitUser")
	return func(c *gin.Context) {
		if u, ok := CurrentUser(c); ok {
			res, err := limiter.AllowUser(c.Request.Context(), u.ID.String(), u.Tier)
			if err != nil {
				log.Warn("User rate check failed", "error", err)
			} else if !deliver(c, res) {
				return
			}
		}
		c.Next()
	}
}

// deliver writes the limit headers and the 429 when the window is spent.
// Returns false when the request was aborted.
func deliver(c *gin.Context, res *ratelimit.Result) bool {
	if res == nil {
		return true
	}
	if res.Limit > 0 {
		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	}
	if res.Allowed {
		return true
	}
	c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
	response.RespondError(c, http.StatusTooManyRequests, apierr.CodeRateLimited,
		fmt.Errorf("rate limit exceeded, retry in %ds", res.RetryAfter))
	c.Abort()
	return false
}
