package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/app"
	"portfolio/imagestore/internal/config"
	"portfolio/imagestore/internal/handlers"
	"portfolio/imagestore/internal/jobs"
	"portfolio/imagestore/internal/log"
	"portfolio/imagestore/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	ctx := context.Background()

	application, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble image store")
	}

	var metricsHandler http.Handler
	if application.Registry != nil {
		metricsHandler = promhttp.HandlerFor(application.Registry, promhttp.HandlerOpts{})
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg.Environment, application.Service, application.Checks())
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet, metricsHandler)

	scheduler := jobs.NewScheduler(logger.With().Str("component", "scheduler").Logger())
	if cfg.Maintenance.Enabled {
		if err := scheduler.AddJob("maintenance-sweep", cfg.Maintenance.Schedule, application.Sweep); err != nil {
			logger.Fatal().Err(err).Msg("schedule maintenance failed")
		}
	}
	scheduler.Start()

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, application)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, application *app.App) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("scheduler did not stop in time")
	}

	// Drains derivations still queued in the local pool.
	if err := application.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
