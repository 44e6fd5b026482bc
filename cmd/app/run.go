package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/goinginblind/support-ticket-bot/internal/auth"
	"github.com/goinginblind/support-ticket-bot/internal/bot"
	"github.com/goinginblind/support-ticket-bot/internal/config"
	"github.com/goinginblind/support-ticket-bot/internal/database"
	"github.com/goinginblind/support-ticket-bot/internal/delivery"
	"github.com/goinginblind/support-ticket-bot/internal/events"
	"github.com/goinginblind/support-ticket-bot/internal/logger"
	"github.com/goinginblind/support-ticket-bot/internal/mailer"
	"github.com/goinginblind/support-ticket-bot/internal/ops"
	"github.com/goinginblind/support-ticket-bot/internal/ratelimit"
	"github.com/goinginblind/support-ticket-bot/internal/repo"
	"github.com/goinginblind/support-ticket-bot/internal/session"
	"github.com/goinginblind/support-ticket-bot/internal/settings"
)

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	zl, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zl.Sugar()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// База
	db, err := database.Open(cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer database.Close(db)
	log.Infow("database connected")

	store, err := settings.Open(cfg.BotConfigPath, log)
	if err != nil {
		return err
	}

	sessions, err := openSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()
	log.Infow("session store initialized", "backend", cfg.SessionBackend)

	users := repo.NewUserRepository(db)
	tickets := repo.NewTicketRepository(db)

	mail := mailer.New(store, mailer.SMTPTransport{}, log)
	challenge := auth.NewChallenge(cfg.AllowedEmailDomain, mail, users,
		ratelimit.NewCooldown(auth.CodeCooldown, time.Now), log)

	producer := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	defer producer.Close()

	api, client, err := bot.NewAPI(cfg.TelegramToken, cfg.ProxyURL)
	if err != nil {
		return err
	}
	log.Infow("telegram bot api initialized")

	// Хэндлеры + бот, внедрение зависимостей
	telegramBot := bot.New(api, bot.Deps{
		Users:      users,
		Tickets:    tickets,
		Sessions:   sessions,
		Settings:   store,
		Auth:       challenge,
		Spam:       ratelimit.NewSpamGuard(bot.SpamLimit, bot.SpamWindow, time.Now),
		Mailer:     mail,
		Events:     producer,
		Downloader: bot.NewHTTPDownloader(client),
	}, log)

	scheduler := delivery.NewScheduler(tickets, mail, store, telegramBot, producer, log)
	telegramBot.AttachDelivery(scheduler)

	var hs *ops.GRPCHealth
	if cfg.GRPCHealthAddr != "" {
		if hs, err = ops.ListenGRPCHealth(cfg.GRPCHealthAddr, log); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return telegramBot.Start(gctx) })
	g.Go(func() error { return delivery.Loop(gctx, cfg.DeliveryInterval, scheduler, log) })
	if cfg.ReportsDir != "" {
		legacy := delivery.NewFolderScheduler(cfg.ReportsDir, mail, store, telegramBot, log)
		g.Go(func() error { return delivery.Loop(gctx, cfg.DeliveryInterval, legacy, log) })
	}

	opsServer := ops.NewServer(users, log, readinessChecks(db, sessions)...)
	g.Go(func() error { return opsServer.ListenAndServe(gctx, cfg.HTTPAddr) })

	if hs != nil {
		g.Go(func() error {
			<-gctx.Done()
			hs.SetNotServing()
			return nil
		})
		g.Go(func() error { return hs.Serve(gctx) })
	}

	log.Infow("bot started", "env", cfg.AppEnv)
	if err := g.Wait(); err != nil {
		log.Errorw("bot stopped with error", "error", err)
		return err
	}
	log.Infow("bot stopped")
	return nil
}

func openSessions(ctx context.Context, cfg *config.Config) (session.Store, error) {
	if cfg.SessionBackend == config.SessionBackendMemory {
		return session.NewMemoryStore(ctx, cfg.SessionTTL)
	}
	return session.NewRedisStore(ctx, session.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, cfg.SessionTTL)
}

func readinessChecks(db *gorm.DB, sessions session.Store) []ops.Check {
	return []ops.Check{
		{Name: "postgres", Ping: func(ctx context.Context) error { return database.Ping(ctx, db) }},
		{Name: "sessions", Ping: sessions.Ping},
	}
}

