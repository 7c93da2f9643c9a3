package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/inkpress-backend/internal/http/handlers"
	httpMW "github.com/yungbote/inkpress-backend/internal/http/middleware"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/ratelimit"
)

const serviceName = "inkpress-api"

type RouterConfig struct {
	Log         *logger.Logger
	Metrics     *observability.Metrics
	FrontendURL string

	AuthMiddleware *httpMW.AuthMiddleware
	RateLimiter    ratelimit.Limiter

	AuthHandler       *httpH.AuthHandler
	ManuscriptHandler *httpH.ManuscriptHandler
	ReportHandler     *httpH.ReportHandler
	AdminHandler      *httpH.AdminHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS(cfg.FrontendURL))
	if cfg.Log != nil {
		r.Use(httpMW.RequestLogger(cfg.Log))
	}
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health and metrics sit outside /api: no auth, no rate limiting.
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")
	if cfg.Log != nil {
		api.Use(httpMW.RateLimitIP(cfg.Log, cfg.RateLimiter))
	}
	{
		// Auth (public)
		if cfg.AuthHandler != nil {
			api.POST("/auth/register", cfg.AuthHandler.Register)
			api.POST("/auth/login", cfg.AuthHandler.Login)
		}
	}

	protected := api.Group("/")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			protected.Use(cfg.AuthMiddleware.RequireAuth())
		}
		if cfg.Log != nil {
			protected.Use(httpMW.RateLimitUser(cfg.Log, cfg.RateLimiter))
		}

		// Auth (protected)
		if cfg.AuthHandler != nil {
			protected.POST("/auth/logout", cfg.AuthHandler.Logout)
			protected.GET("/me", cfg.AuthHandler.Me)
		}

		// Manuscripts
		if cfg.ManuscriptHandler != nil {
			protected.POST("/manuscripts", cfg.ManuscriptHandler.Upload)
			protected.GET("/manuscripts", cfg.ManuscriptHandler.List)
			protected.GET("/manuscripts/:id", cfg.ManuscriptHandler.Get)
		}

		// Analysis runs and their artifacts
		if cfg.ReportHandler != nil {
			protected.POST("/manuscripts/:id/analyze", cfg.ReportHandler.Enqueue)
			protected.GET("/reports/:reportId/status", cfg.ReportHandler.Status)
			protected.GET("/reports/:reportId/artifacts/:kind", cfg.ReportHandler.Artifact)
			protected.GET("/reports/:reportId/covers/:n", cfg.ReportHandler.CoverImage)
			protected.GET("/reports/:reportId/export/:format", cfg.ReportHandler.Export)
			protected.POST("/reports/:reportId/cancel", cfg.ReportHandler.Cancel)
		}
	}

	admin := protected.Group("/admin")
	{
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAdmin())
		}
		if cfg.AdminHandler != nil {
			admin.GET("/costs/summary", cfg.AdminHandler.Costs)
			admin.GET("/queue", cfg.AdminHandler.QueueStats)
		}
	}

	return r
}
