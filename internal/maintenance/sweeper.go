// Package maintenance reconciles derivatives with their originals.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/metrics"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/naming"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
)

type Report struct {
	Originals   int           `json:"originals"`
	Removed     int           `json:"removed"`
	Regenerated int           `json:"regenerated"`
	Failed      int           `json:"failed"`
	Took        time.Duration `json:"took"`
}

// Sweeper removes derivatives whose original is gone and regenerates the
// missing derivatives of existing originals. Only one sweep runs at a time
// per Sweeper.
type Sweeper struct {
	store    storage.Store
	engine   *thumbnail.Engine
	resolver *reference.Resolver
	observer metrics.Observer
	log      zerolog.Logger

	mu sync.Mutex
}

func NewSweeper(store storage.Store, engine *thumbnail.Engine, resolver *reference.Resolver, observer metrics.Observer, log zerolog.Logger) *Sweeper {
	if observer == nil {
		observer = metrics.Nop()
	}
	return &Sweeper{
		store:    store,
		engine:   engine,
		resolver: resolver,
		observer: observer,
		log:      log,
	}
}

func (s *Sweeper) Run(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	report, err := s.sweep(ctx)
	report.Took = time.Since(start)
	s.observer.RecordSweep(report.Removed, report.Regenerated, err)

	event := s.log.Info()
	if err != nil {
		event = s.log.Error().Err(err)
	}
	event.Int("originals", report.Originals).
		Int("removed", report.Removed).
		Int("regenerated", report.Regenerated).
		Int("failed", report.Failed).
		Dur("took", report.Took).
		Msg("maintenance sweep finished")
	return report, err
}

func (s *Sweeper) sweep(ctx context.Context) (Report, error) {
	var report Report

	originals, err := s.store.List(ctx, "")
	if err != nil {
		return report, fmt.Errorf("list originals: %w", err)
	}
	report.Originals = len(originals)
	present := make(map[string]bool, len(originals))
	for _, name := range originals {
		present[name] = true
	}

	removed, err := s.removeOrphans(ctx, present)
	report.Removed = removed
	if err != nil {
		return report, err
	}

	var errs []error
	for _, name := range originals {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := s.regenerate(ctx, name)
		report.Regenerated += n
		if err != nil {
			report.Failed++
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		s.log.Warn().Err(errors.Join(errs...)).Msg("some derivatives could not be regenerated")
	}
	return report, nil
}

func (s *Sweeper) removeOrphans(ctx context.Context, present map[string]bool) (int, error) {
	dir := s.resolver.ThumbnailDir()
	derived, err := s.store.List(ctx, dir)
	if err != nil {
		return 0, fmt.Errorf("list derivatives: %w", err)
	}

	specs := thumbnail.SpecNames(s.engine.Specs())
	removed := 0
	for _, name := range derived {
		original, _, ok := naming.SplitDerivativeName(name, specs)
		if !ok || present[original] {
			continue
		}
		// The original may have been stored after the listing above.
		exists, err := s.store.Exists(ctx, original)
		if err != nil {
			s.log.Warn().Err(err).Str("derivative", name).Str("original", original).Msg("check original failed, keeping derivative")
			continue
		}
		if exists {
			continue
		}
		deleted, err := s.store.Delete(ctx, path.Join(dir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("derivative", name).Msg("remove orphan failed")
			continue
		}
		if deleted {
			removed++
		}
	}
	return removed, nil
}

func (s *Sweeper) regenerate(ctx context.Context, name string) (int, error) {
	missing, err := s.engine.Missing(ctx, name)
	if err != nil || len(missing) == 0 {
		return 0, err
	}
	info, err := s.store.Stat(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	stored := models.StoredAsset{
		Name:        name,
		Path:        name,
		SizeBytes:   info.Size,
		ContentType: info.ContentType,
		CreatedAt:   info.ModTime,
	}
	derivatives, err := s.engine.Derive(ctx, stored, missing)
	return len(derivatives), err
}
