package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"webook-bot/internal/auth"
	"webook-bot/internal/config"
	"webook-bot/internal/conversation"
	"webook-bot/internal/ledger"
	"webook-bot/internal/scheduler"
	"webook-bot/internal/search"
	"webook-bot/internal/telegram"
)

const sweepSchedule = "@every 1m"

func main() {
	if err := godotenv.Load(".env"); err != nil {
		log.Info().Err(err).Msg(".env file not loaded")
	}

	cfg := config.New()
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	searcher, err := search.New(search.Options{
		BaseURL:    cfg.SearchBaseURL,
		Locale:     cfg.SearchLocale,
		MaxResults: cfg.SearchMaxResults,
		UserAgent:  cfg.SearchUserAgent,
		Timeout:    cfg.SearchTimeout,
		RatePerSec: cfg.SearchRatePerSec,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init search client")
	}

	bookings, err := ledger.NewFileLedger(cfg.LedgerFilePath, cfg.LedgerTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init ledger")
	}

	bot, err := telegram.New(cfg.TelegramBotToken, telegram.Deps{
		Auth:          auth.New(cfg.AdminUserID),
		Searcher:      searcher,
		Ledger:        bookings,
		Conversations: conversation.NewManager(bookings, cfg.ConversationTTL),
		Selections:    conversation.NewSelections(cfg.ConversationTTL),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	sched := scheduler.New()
	if err := sched.Add("daily_report", cfg.ReportSchedule, bot.SendDailyReport); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule report")
	}
	if err := sched.Add("sweep", sweepSchedule, bot.SweepExpired); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule sweep")
	}
	sched.Start()
	defer sched.Stop()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	wh := telegram.Webhook{ListenAddr: cfg.WebhookListenAddr, Path: cfg.WebhookPath}
	if cfg.UpdateMode == config.ModeWebhook {
		wh.URL = cfg.WebhookURL
	}
	if err := bot.Start(ctx, wh); err != nil {
		sched.Stop()
		log.Fatal().Err(err).Msg("bot stopped with error")
	}
	log.Info().Msg("bot stopped")
}

func setupLogging(level, format string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Err(err).Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if format == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}
