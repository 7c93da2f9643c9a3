package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type HealthHandler struct {
	log *logger.Logger
	db  *gorm.DB
	rdb *goredis.Client
}

func NewHealthHandler(baseLog *logger.Logger, db *gorm.DB, rdb *goredis.Client) *HealthHandler {
	return &HealthHandler{
		log: baseLog.With("handler", "HealthHandler"),
		db:  db,
		rdb: rdb,
	}
}

// HealthCheck reports dependency liveness. Any down dependency degrades the
// whole response to 503 so the load balancer rotates the instance out.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	postgres := h.pingPostgres(ctx)
	redis := h.pingRedis(ctx)

	status := http.StatusOK
	overall := "ok"
	if postgres != "up" || redis != "up" {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	c.JSON(status, gin.H{
		"status":   overall,
		"postgres": postgres,
		"redis":    redis,
	})
}

func (h *HealthHandler) pingPostgres(ctx context.Context) string {
	if h.db == nil {
		return "unconfigured"
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		h.log.Warn("Postgres handle unavailable", "error", err)
		return "down"
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		h.log.Warn("Postgres ping failed", "error", err)
		return "down"
	}
	return "up"
}

func (h *HealthHandler) pingRedis(ctx context.Context) string {
	if h.rdb == nil {
		return "unconfigured"
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		h.log.Warn("Redis ping failed", "error", err)
		return "down"
	}
	return "up"
}
