package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/inkpress-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Identity
		&types.User{},

		// Manuscripts (uploads + pipeline lifecycle)
		&types.Manuscript{},

		// Append-only provider cost ledger
		&types.CostEntry{},
	)
}

// MigrationStatus reports whether every table the app reads exists; used by the
// healthcheck so a half-migrated database fails loudly.
func MigrationStatus(db *gorm.DB) error {
	for _, m := range []interface{}{
		&types.User{},
		&types.Manuscript{},
		&types.CostEntry{},
	} {
		if !db.Migrator().HasTable(m) {
			return fmt.Errorf("missing table for %T", m)
		}
	}
	return nil
}
