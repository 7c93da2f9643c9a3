package app

import (
	"gorm.io/gorm"

	costsrepo "github.com/yungbote/inkpress-backend/internal/data/repos/costs"
	manuscriptrepo "github.com/yungbote/inkpress-backend/internal/data/repos/manuscripts"
	userrepo "github.com/yungbote/inkpress-backend/internal/data/repos/user"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type Repos struct {
	User       userrepo.UserRepo
	Manuscript manuscriptrepo.ManuscriptRepo
	CostEntry  costsrepo.CostEntryRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		User:       userrepo.NewUserRepo(db, log),
		Manuscript: manuscriptrepo.NewManuscriptRepo(db, log),
		CostEntry:  costsrepo.NewCostEntryRepo(db, log),
	}
}
