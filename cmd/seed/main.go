// seed inserts a development guild configuration for local testing.
// Idempotent: skips if the dev guild already has a configuration.
package main

import (
	"context"
	"flag"
	"log"

	"corp-verifier/bot/internal/config"
	"corp-verifier/bot/internal/db"
	guildconfigdomain "corp-verifier/bot/internal/guildconfig/domain"
	guildconfigrepo "corp-verifier/bot/internal/guildconfig/repository"
	identitydomain "corp-verifier/bot/internal/identity/domain"
)

func main() {
	guildID := flag.String("guild", "dev-guild-001", "Guild id to seed")
	org := flag.String("org", "", "Target organization alias (empty disables the org requirement)")
	roleID := flag.String("role", "", "Verified role id (empty grants no role)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	repo := guildconfigrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	existing, err := repo.Get(ctx, *guildID)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (guild %s configured). Skipping.", *guildID)
		return
	}

	gc := guildconfigdomain.Default(*guildID)
	gc.RoleID = *roleID
	gc.Organization = *org
	gc.RequiresOrganization = *org != ""
	gc.AllowedUserTypes = []identitydomain.UserType{identitydomain.UserTypeFullTimeEmployee}

	if err := repo.Upsert(ctx, gc); err != nil {
		log.Fatalf("seed guild config: %v", err)
	}
	log.Printf("Seed completed: guild %s (org=%q role=%q, employees allowed).", *guildID, *org, *roleID)
}
