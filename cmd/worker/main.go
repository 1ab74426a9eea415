package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"portfolio/imagestore/internal/app"
	"portfolio/imagestore/internal/config"
	"portfolio/imagestore/internal/log"
	"portfolio/imagestore/internal/queue"
	"portfolio/imagestore/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("process", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The worker derives in-process; only the API hands work to the queue.
	application, err := app.New(ctx, cfg, logger, app.Options{DeriveMode: config.DeriveInline, NeedRedis: true})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to assemble image store")
	}
	defer application.Close()

	processor := tasks.NewProcessor(application.Store, application.Engine, application.Sweeper, logger)
	consumer := queue.NewConsumer(
		application.Redis,
		cfg.Redis.Stream,
		cfg.Redis.Group,
		cfg.Redis.Consumer,
		cfg.Redis.ClaimInterval,
		logger,
		processor,
	)

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
	}
	logger.Info().Msg("worker exited cleanly")
}
