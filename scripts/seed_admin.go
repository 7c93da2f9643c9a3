// Seeds an admin user. Intended for fresh environments:
//
//	go run ./scripts -email ops@example.com -password '...' -pen-name Ops
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/yungbote/inkpress-backend/internal/data/db"
	userrepo "github.com/yungbote/inkpress-backend/internal/data/repos/user"
	types "github.com/yungbote/inkpress-backend/internal/domain"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

func main() {
	email := flag.String("email", "", "admin email (required)")
	password := flag.String("password", "", "admin password (required)")
	penName := flag.String("pen-name", "Admin", "display name")
	flag.Parse()

	if strings.TrimSpace(*email) == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: seed_admin -email <email> -password <password> [-pen-name <name>]")
		os.Exit(2)
	}

	_ = godotenv.Load()

	log, err := logger.New("development")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := db.AutoMigrateAll(pg.DB()); err != nil {
		log.Error("Automigrate failed", "error", err)
		os.Exit(1)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Hash password failed", "error", err)
		os.Exit(1)
	}

	repo := userrepo.NewUserRepo(pg.DB(), log)
	dbc := dbctx.Context{Ctx: context.Background()}
	created, err := repo.Create(dbc, []*types.User{{
		Email:    strings.ToLower(strings.TrimSpace(*email)),
		Password: string(hashed),
		PenName:  strings.TrimSpace(*penName),
		Tier:     types.TierAdmin,
	}})
	if err != nil {
		log.Error("Create admin failed", "error", err)
		os.Exit(1)
	}

	log.Info("Admin user created", "id", created[0].ID.String(), "email", created[0].Email)
}
