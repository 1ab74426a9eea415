package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/maintenance"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/queue"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
)

type Deriver interface {
	DeriveAll(ctx context.Context, stored models.StoredAsset) ([]models.Derivative, error)
}

type Sweeper interface {
	Run(ctx context.Context) (maintenance.Report, error)
}

// Processor executes tasks taken from the worker stream. Returning an error
// leaves the message pending so another consumer retries it later.
type Processor struct {
	store   storage.Store
	deriver Deriver
	sweeper Sweeper
	logger  zerolog.Logger
}

func NewProcessor(store storage.Store, deriver Deriver, sweeper Sweeper, logger zerolog.Logger) *Processor {
	return &Processor{
		store:   store,
		deriver: deriver,
		sweeper: sweeper,
		logger:  logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	task, err := queue.ParseTask(msg)
	if err != nil {
		// A malformed entry will never succeed; ack it.
		p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("dropping malformed task")
		return nil
	}

	log := p.logger.With().Str("task_id", task.ID).Str("type", task.Type).Logger()
	switch task.Type {
	case queue.TaskDerive:
		return p.handleDerive(ctx, log, task)
	case queue.TaskSweep:
		return p.handleSweep(ctx, log)
	default:
		log.Warn().Msg("unknown task type")
		return nil
	}
}

func (p *Processor) handleDerive(ctx context.Context, log zerolog.Logger, task queue.Task) error {
	info, err := p.store.Stat(ctx, task.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidName) {
			log.Info().Str("name", task.Name).Msg("original gone, nothing to derive")
			return nil
		}
		return fmt.Errorf("stat %s: %w", task.Name, err)
	}

	stored := models.StoredAsset{
		Name:        task.Name,
		Path:        task.Name,
		SizeBytes:   info.Size,
		ContentType: info.ContentType,
		CreatedAt:   info.ModTime,
	}
	derivatives, err := p.deriver.DeriveAll(ctx, stored)
	if err != nil {
		var derr *thumbnail.DerivativeError
		if errors.As(err, &derr) && derr.Stage != thumbnail.StageRead && derr.Stage != thumbnail.StageWrite {
			// Decoding or encoding this source fails the same way every time.
			log.Warn().Err(err).Int("derived", len(derivatives)).Msg("derivation incomplete")
			return nil
		}
		return err
	}
	log.Info().Str("name", task.Name).Int("derived", len(derivatives)).Msg("derivatives written")
	return nil
}

func (p *Processor) handleSweep(ctx context.Context, log zerolog.Logger) error {
	if p.sweeper == nil {
		log.Warn().Msg("sweep requested but no sweeper configured")
		return nil
	}
	_, err := p.sweeper.Run(ctx)
	return err
}
