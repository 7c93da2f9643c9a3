package app

import (
	httpMW "github.com/yungbote/inkpress-backend/internal/http/middleware"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

func wireMiddleware(log *logger.Logger, cfg Config, svcs Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, svcs.Auth, cfg.CookieName),
	}
}
