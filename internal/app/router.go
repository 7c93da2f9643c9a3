package app

import (
	"github.com/yungbote/inkpress-backend/internal/http"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware, svcs Services) *http.Server {
	return http.NewServer(http.RouterConfig{
		Log:         log,
		Metrics:     metrics,
		FrontendURL: cfg.FrontendURL,

		AuthMiddleware: middleware.Auth,
		RateLimiter:    svcs.Limiter,

		AuthHandler:       handlers.Auth,
		ManuscriptHandler: handlers.Manuscript,
		ReportHandler:     handlers.Report,
		AdminHandler:      handlers.Admin,
		HealthHandler:     handlers.Health,
	})
}
