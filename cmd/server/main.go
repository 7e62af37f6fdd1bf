package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/digit-api/internal/config"
	"github.com/Brownie44l1/digit-api/internal/container"
	"github.com/Brownie44l1/digit-api/internal/handlers"
	"github.com/Brownie44l1/digit-api/internal/logging"
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

	app, err := container.New(cfg, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize classifier")
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go app.Sessions.RunSweeper(ctx, cfg.SessionTTL/2)

	gin.SetMode(gin.ReleaseMode)
	h := handlers.NewHandler(app.Classifier, app.Sessions, logger, handlers.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		CanvasSize:     cfg.CanvasSize,
		BrushWidth:     cfg.BrushWidth,
	})
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handlers.NewRouter(h, logger),
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Strs("classes", app.Classifier.Metadata.Classes).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown")
	}
	logger.Info().Msg("server stopped")
}
