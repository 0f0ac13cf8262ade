// bot runs the verification bot: gateway commands plus the periodic
// reconciliation sweep.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"corp-verifier/bot/internal/config"
	"corp-verifier/bot/internal/db"
	"corp-verifier/bot/internal/directory/msgraph"
	"corp-verifier/bot/internal/discord"
	guildconfigrepo "corp-verifier/bot/internal/guildconfig/repository"
	policyengine "corp-verifier/bot/internal/policy/engine"
	"corp-verifier/bot/internal/sweep"
	telemetryotel "corp-verifier/bot/internal/telemetry/otel"
	verificationrepo "corp-verifier/bot/internal/verification/repository"
	verificationservice "corp-verifier/bot/internal/verification/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DiscordToken == "" {
		log.Fatal("DISCORD_TOKEN is not set")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "corp-verifier-bot", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	configs := guildconfigrepo.NewPostgresRepository(conn)
	verifications := verificationrepo.NewPostgresRepository(conn)

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

	bot, err := discord.NewBot(cfg.DiscordToken)
	if err != nil {
		log.Fatalf("discord: %v", err)
	}
	sess := bot.Session()

	verifier := verificationservice.NewService(
		verifications, dir, evaluator,
		discord.NewNotifier(sess), discord.NewRoles(sess),
	)
	handler := discord.NewHandler(ctx, sess, configs, verifications, verifier)

	if err := bot.Start(handler); err != nil {
		log.Fatalf("discord: %v", err)
	}
	defer bot.Close()
	log.Println("bot: gateway connected")

	sweeper := sweep.NewSweeper(configs, verifications, dir, evaluator)
	sweeper.ItemTimeout = cfg.SweepItemTimeoutDuration()
	revoker := discord.NewRevoker(sess, configs, verifications)
	scheduler := sweep.NewScheduler(sweeper, func(ctx context.Context, report *sweep.Report) {
		for _, rev := range report.Revocations() {
			emitter.Emit(ctx, telemetryotel.Event{
				Type:    "sweep.revoked",
				GuildID: rev.GuildID,
				UserID:  rev.UserID,
				Alias:   rev.Alias,
				Reason:  string(rev.Reason),
			})
		}
		revoker.Apply(ctx, report)
	}, cfg.SweepStartupDelayDuration(), cfg.SweepIntervalDuration())
	go scheduler.Run(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("bot: shutting down...")
	cancel()
	log.Println("bot: stopped")
}
