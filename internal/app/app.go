// Package app assembles the ingestion subsystem from configuration. The API,
// the worker and the CLI all build on it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/config"
	"portfolio/imagestore/internal/derive"
	"portfolio/imagestore/internal/maintenance"
	"portfolio/imagestore/internal/media/sniffer"
	"portfolio/imagestore/internal/metrics"
	"portfolio/imagestore/internal/naming"
	"portfolio/imagestore/internal/queue"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/service"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
	"portfolio/imagestore/internal/validate"
)

type Options struct {
	// DeriveMode overrides derive.mode; the CLI derives inline.
	DeriveMode string
	// NeedRedis connects to redis even when derive.mode does not require it.
	NeedRedis bool
}

type App struct {
	Config   *config.AppConfig
	Log      zerolog.Logger
	Store    storage.Store
	Resolver *reference.Resolver
	Engine   *thumbnail.Engine
	Service  *service.IngestService
	Sweeper  *maintenance.Sweeper
	Observer metrics.Observer
	Registry *prometheus.Registry
	Redis    *redis.Client
	Producer *queue.Producer

	pool *derive.Pool
}

func New(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Log: log, Observer: metrics.Nop()}

	if cfg.Metrics.Enabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		observer, err := metrics.NewPrometheusObserver(cfg.Metrics.Namespace, a.Registry)
		if err != nil {
			return nil, err
		}
		a.Observer = observer
	}

	store, err := NewStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.Store = store

	specs := Specs(cfg.Thumbnails)
	a.Resolver = reference.NewResolver(cfg.Storage.PublicPrefix, cfg.Storage.ThumbnailDir, thumbnail.SpecNames(specs))

	codec, err := thumbnail.NewImagingCodec(cfg.Thumbnails.Filter, cfg.Thumbnails.JPEGQuality)
	if err != nil {
		return nil, err
	}
	a.Engine = thumbnail.NewEngine(store, codec, a.Resolver, specs,
		thumbnail.WithFallback(thumbnail.Format(cfg.Thumbnails.WebPFallback)),
		thumbnail.WithObserver(a.Observer),
		thumbnail.WithLogger(log.With().Str("component", "thumbnail").Logger()),
	)
	a.Sweeper = maintenance.NewSweeper(store, a.Engine, a.Resolver, a.Observer, log.With().Str("component", "maintenance").Logger())

	mode := cfg.Derive.Mode
	if opts.DeriveMode != "" {
		mode = opts.DeriveMode
	}
	if mode == config.DeriveQueue || opts.NeedRedis || (cfg.Maintenance.Enabled && cfg.Maintenance.Enqueue) {
		client, err := queue.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.Producer = queue.NewProducer(client, cfg.Redis.Stream)
	}

	var dispatcher derive.Dispatcher
	switch mode {
	case config.DeriveInline:
		dispatcher = derive.NewInline(a.Engine)
	case config.DerivePool:
		a.pool = derive.NewPool(a.Engine, cfg.Derive.Workers, cfg.Derive.QueueSize, log.With().Str("component", "derive").Logger())
		dispatcher = a.pool
	case config.DeriveQueue:
		dispatcher = a.Producer
	default:
		a.Close()
		return nil, fmt.Errorf("unknown derive mode %q", mode)
	}

	names := naming.NewGenerator()
	a.Service = service.NewIngestService(
		validate.New(Policy(cfg.Upload)),
		names,
		store,
		a.Engine,
		a.Resolver,
		dispatcher,
		a.Observer,
		log.With().Str("component", "ingest").Logger(),
	)
	return a, nil
}

// Sweep runs a maintenance sweep here, or hands it to a worker when
// maintenance.enqueue is set.
func (a *App) Sweep(ctx context.Context) error {
	if a.Config.Maintenance.Enqueue && a.Producer != nil {
		id, err := a.Producer.EnqueueSweep(ctx)
		if err != nil {
			return err
		}
		a.Log.Info().Str("stream_id", id).Msg("sweep enqueued")
		return nil
	}
	_, err := a.Sweeper.Run(ctx)
	return err
}

// Checks are the dependencies reported by the health endpoint.
func (a *App) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"storage": a.Store.Ping,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return checks
}

// Close drains queued derivations and releases connections.
func (a *App) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.Redis != nil {
		return a.Redis.Close()
	}
	return nil
}

func NewStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return storage.NewLocalStore(cfg.Root, cfg.ThumbnailDir)
	case config.BackendMinio:
		store, err := storage.NewObjectStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, errors.New("unknown storage backend " + cfg.Backend)
}

func Policy(cfg config.UploadConfig) validate.Policy {
	policy := validate.Policy{MaxBytes: cfg.MaxBytes}
	for _, t := range cfg.Types {
		policy.Types = append(policy.Types, validate.TypeRule{
			MIME:       t.MIME,
			Family:     sniffer.MediaType(t.Family),
			Extensions: t.Extensions,
		})
	}
	return policy
}

func Specs(cfg config.ThumbnailConfig) []thumbnail.Spec {
	specs := make([]thumbnail.Spec, 0, len(cfg.Specs))
	for _, s := range cfg.Specs {
		specs = append(specs, thumbnail.Spec{Name: s.Name, Width: s.Width, Height: s.Height})
	}
	return specs
}
