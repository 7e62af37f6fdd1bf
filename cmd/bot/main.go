package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/digit-api/internal/config"
	"github.com/Brownie44l1/digit-api/internal/container"
	"github.com/Brownie44l1/digit-api/internal/logging"
	"github.com/Brownie44l1/digit-api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("configure logging")
	}
	log.Logger = logger

	if cfg.TelegramToken == "" {
		logger.Fatal().Msg("TELEGRAM_TOKEN is required")
	}

	app, err := container.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize classifier")
	}
	defer app.Close()

	bot, err := telegram.NewBot(cfg.TelegramToken, app.Classifier, app.Sessions, logger.With().Str("component", "telegram").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create bot")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go app.Sessions.RunSweeper(ctx, cfg.SessionTTL/2)

	logger.Info().Msg("bot is running")
	if err := bot.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bot error")
	}
}
