package app

import (
	"gorm.io/gorm"

	httpH "github.com/yungbote/inkpress-backend/internal/http/handlers"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Auth       *httpH.AuthHandler
	Manuscript *httpH.ManuscriptHandler
	Report     *httpH.ReportHandler
	Admin      *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, cfg Config, db *gorm.DB, clients Clients, repos Repos, svcs Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(log, db, clients.Redis),
		Auth:       httpH.NewAuthHandler(log, svcs.Auth, cfg.CookieName, cfg.SecureCookies),
		Manuscript: httpH.NewManuscriptHandler(log, svcs.Manuscripts, cfg.MaxFileSize),
		Report: httpH.NewReportHandler(
			log,
			svcs.IDs,
			svcs.Queue,
			svcs.Manuscripts,
			repos.Manuscript,
			clients.Store,
			svcs.Ledger,
			cfg.PendingWatermark,
			cfg.DisableNewAnalyses,
		),
		Admin: httpH.NewAdminHandler(log, svcs.Ledger, svcs.Queue),
	}
}
