package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/derive"
	"portfolio/imagestore/internal/media/sniffer"
	"portfolio/imagestore/internal/metrics"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/naming"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
	"portfolio/imagestore/internal/validate"
)

var ErrUnknownSize = errors.New("unknown thumbnail size")

// maxNameAttempts bounds regeneration after a generated name turns out to
// be taken.
const maxNameAttempts = 3

type IngestResult struct {
	Reference  string             `json:"reference"`
	Asset      models.StoredAsset `json:"asset"`
	Thumbnails map[string]string  `json:"thumbnails"`
}

type IngestService struct {
	validator  *validate.Validator
	names      *naming.Generator
	store      storage.Store
	engine     *thumbnail.Engine
	resolver   *reference.Resolver
	dispatcher derive.Dispatcher
	observer   metrics.Observer
	log        zerolog.Logger
}

func NewIngestService(
	validator *validate.Validator,
	names *naming.Generator,
	store storage.Store,
	engine *thumbnail.Engine,
	resolver *reference.Resolver,
	dispatcher derive.Dispatcher,
	observer metrics.Observer,
	log zerolog.Logger,
) *IngestService {
	if dispatcher == nil {
		dispatcher = derive.NewInline(engine)
	}
	if observer == nil {
		observer = metrics.Nop()
	}
	return &IngestService{
		validator:  validator,
		names:      names,
		store:      store,
		engine:     engine,
		resolver:   resolver,
		dispatcher: dispatcher,
		observer:   observer,
		log:        log,
	}
}

// Ingest validates an upload, stores it under a fresh name and hands it to
// the dispatcher for derivation. Derivation failures never fail the call.
// A *validate.ValidationError means nothing was written.
func (s *IngestService) Ingest(ctx context.Context, upload validate.UploadCandidate) (IngestResult, error) {
	start := time.Now()

	validated, err := s.validator.Validate(upload)
	if err != nil {
		var verr *validate.ValidationError
		if errors.As(err, &verr) {
			s.observer.RecordRejection(string(verr.Kind))
			s.log.Info().Str("kind", string(verr.Kind)).Str("filename", upload.Filename).Msg("upload rejected")
		}
		return IngestResult{}, err
	}

	stored, err := s.persist(ctx, validated)
	s.observer.RecordIngest(time.Since(start), int64(len(validated.Data)), err)
	if err != nil {
		return IngestResult{}, err
	}

	if err := s.dispatcher.Dispatch(ctx, stored); err != nil {
		s.log.Warn().Err(err).Str("name", stored.Name).Msg("derivation not completed")
	}

	thumbs := make(map[string]string, len(s.engine.Specs()))
	for _, spec := range s.engine.Specs() {
		thumbs[spec.Name] = s.engine.URLFor(stored.Name, spec.Name)
	}

	s.log.Info().
		Str("name", stored.Name).
		Str("mime", validated.MIME).
		Str("size", humanize.IBytes(uint64(stored.SizeBytes))).
		Dur("took", time.Since(start)).
		Msg("image stored")

	return IngestResult{
		Reference:  s.resolver.ToReference(stored.Path),
		Asset:      stored,
		Thumbnails: thumbs,
	}, nil
}

func (s *IngestService) persist(ctx context.Context, validated validate.Validated) (models.StoredAsset, error) {
	var lastErr error
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := s.names.Generate(validated.Filename)
		stored, err := s.store.Write(ctx, name, validated.Data, validated.MIME)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, storage.ErrExists) {
			return models.StoredAsset{}, fmt.Errorf("store original: %w", err)
		}
		s.log.Warn().Str("name", name).Int("attempt", attempt+1).Msg("generated name already taken")
		lastErr = err
	}
	return models.StoredAsset{}, fmt.Errorf("store original: %w", lastErr)
}

// Delete removes an original and every derivative named after it. An
// unresolvable reference deletes nothing and is not an error.
func (s *IngestService) Delete(ctx context.Context, ref string) (bool, error) {
	start := time.Now()

	name, err := s.resolver.ToStoredName(ref)
	if err != nil {
		s.log.Debug().Str("ref", ref).Msg("delete ignored unresolvable reference")
		return false, nil
	}

	existed, err := s.store.Delete(ctx, name)
	if err != nil {
		s.observer.RecordDelete(time.Since(start), false, err)
		return false, fmt.Errorf("delete original: %w", err)
	}
	derivatives := s.engine.DeleteAll(ctx, name)
	s.observer.RecordDelete(time.Since(start), existed, nil)

	s.log.Info().Str("name", name).Bool("existed", existed).Int("derivatives", derivatives).Msg("image deleted")
	return existed, nil
}

// Introspect reports metadata for an original or a derivative. The MIME
// type is probed from the stored bytes on every call.
func (s *IngestService) Introspect(ctx context.Context, ref string) (models.FileInfo, error) {
	name, err := s.resolver.ToPath(ref)
	if err != nil {
		return models.FileInfo{}, err
	}

	info, err := s.store.Stat(ctx, name)
	if err != nil {
		return models.FileInfo{}, err
	}

	rc, err := s.store.Open(ctx, name)
	if err != nil {
		return models.FileInfo{}, err
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("probe %s: %w", name, err)
	}

	return models.FileInfo{
		Filename:  path.Base(name),
		SizeBytes: info.Size,
		MIME:      sniffer.NormalizeMIME(mt.String()),
		Reference: ref,
		ModTime:   info.ModTime,
	}, nil
}

// Open streams an original or derivative for serving.
func (s *IngestService) Open(ctx context.Context, ref string) (io.ReadCloser, storage.Info, error) {
	name, err := s.resolver.ToPath(ref)
	if err != nil {
		return nil, storage.Info{}, err
	}
	info, err := s.store.Stat(ctx, name)
	if err != nil {
		return nil, storage.Info{}, err
	}
	rc, err := s.store.Open(ctx, name)
	if err != nil {
		return nil, storage.Info{}, err
	}
	return rc, info, nil
}

func (s *IngestService) Exists(ctx context.Context, ref string) (bool, error) {
	name, err := s.resolver.ToPath(ref)
	if err != nil {
		return false, nil
	}
	return s.store.Exists(ctx, name)
}

// ThumbnailReference names the derivative of ref for a size, matched
// case-insensitively. The derivative is not required to exist.
func (s *IngestService) ThumbnailReference(ref, size string) (string, error) {
	spec, ok := thumbnail.FindSpec(s.engine.Specs(), size)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSize, size)
	}
	return s.resolver.ThumbnailReference(ref, spec.Name)
}

func (s *IngestService) Policy() validate.Policy {
	return s.validator.Policy()
}

func (s *IngestService) Sizes() []thumbnail.Spec {
	return s.engine.Specs()
}
