// sweeper runs one reconciliation sweep and prints the report without
// applying revocations. Useful for auditing what the next scheduled
// sweep would do.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corp-verifier/bot/internal/config"
	"corp-verifier/bot/internal/db"
	"corp-verifier/bot/internal/directory/msgraph"
	guildconfigrepo "corp-verifier/bot/internal/guildconfig/repository"
	policyengine "corp-verifier/bot/internal/policy/engine"
	"corp-verifier/bot/internal/sweep"
	verificationrepo "corp-verifier/bot/internal/verification/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		cancel()
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	dir, err := msgraph.NewClient(msgraph.Config{
		Tenant:            cfg.AADTenant,
		ClientID:          cfg.AADClientID,
		ClientSecret:      cfg.AADClientSecret,
		LoginBaseURL:      cfg.LoginBaseURL,
		GraphBaseURL:      cfg.GraphBaseURL,
		RequestsPerSecond: cfg.DirectoryRPS,
	})
	if err != nil {
		log.Fatalf("directory: %v", err)
	}

	evaluator, err := policyengine.NewOPAEvaluator(ctx)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}

	sweeper := sweep.NewSweeper(
		guildconfigrepo.NewPostgresRepository(conn),
		verificationrepo.NewPostgresRepository(conn),
		dir, evaluator,
	)
	sweeper.ItemTimeout = cfg.SweepItemTimeoutDuration()

	report := sweeper.Run(ctx)
	if report.Err != nil {
		log.Fatalf("sweep: %v", report.Err)
	}

	for _, g := range report.Guilds {
		fmt.Printf("guild %s: checked=%d refreshed=%d revocations=%d errors=%d\n",
			g.GuildID, g.Checked, g.Refreshed, len(g.Revocations), len(g.Errors))
		for _, rev := range g.Revocations {
			fmt.Printf("  would revoke %s (%s): %s\n", rev.UserID, rev.Alias, rev.Reason)
		}
		for _, item := range g.Errors {
			fmt.Printf("  error %s: %v\n", item.UserID, item.Err)
		}
		if g.Err != nil {
			fmt.Printf("  guild error: %v\n", g.Err)
		}
	}
	fmt.Printf("sweep finished in %s: %d revocations recommended, %d errors\n",
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
		len(report.Revocations()), report.ErrorCount())
}
