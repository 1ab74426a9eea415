// Package thumbnail derives fixed-size copies of stored originals.
package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"path"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"portfolio/imagestore/internal/metrics"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/storage"
)

const (
	StageFormat = "format"
	StageRead   = "read"
	StageDecode = "decode"
	StageEncode = "encode"
	StageWrite  = "write"
)

// DerivativeError reports one size that could not be produced. It never
// fails the ingestion of the original.
type DerivativeError struct {
	Original string
	Spec     string
	Stage    string
	Err      error
}

func (e *DerivativeError) Error() string {
	return fmt.Sprintf("derivative %s of %s: %s: %v", e.Spec, e.Original, e.Stage, e.Err)
}

func (e *DerivativeError) Unwrap() error {
	return e.Err
}

type Engine struct {
	store    storage.Store
	codec    Codec
	resolver *reference.Resolver
	specs    []Spec
	fallback Format
	observer metrics.Observer
	log      zerolog.Logger

	gaps sync.Map
}

type Option func(*Engine)

// WithFallback sets the format used for sources the codec cannot encode.
// An empty format skips those derivatives.
func WithFallback(format Format) Option {
	return func(e *Engine) { e.fallback = format }
}

func WithObserver(o metrics.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(store storage.Store, codec Codec, resolver *reference.Resolver, specs []Spec, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		codec:    codec,
		resolver: resolver,
		specs:    append([]Spec(nil), specs...),
		fallback: FormatJPEG,
		observer: metrics.Nop(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Specs() []Spec {
	return append([]Spec(nil), e.specs...)
}

// DeriveAll produces every configured size of stored.
func (e *Engine) DeriveAll(ctx context.Context, stored models.StoredAsset) ([]models.Derivative, error) {
	return e.Derive(ctx, stored, e.specs)
}

// Derive decodes stored once and writes one derivative per spec in parallel.
// A derivative that already exists counts as derived. The returned error
// joins a *DerivativeError for every size that failed; the derivatives that
// succeeded are returned alongside it.
func (e *Engine) Derive(ctx context.Context, stored models.StoredAsset, specs []Spec) ([]models.Derivative, error) {
	if len(specs) == 0 {
		return nil, nil
	}

	source, ok := FormatForExtension(path.Ext(stored.Name))
	if !ok {
		return nil, e.failAll(stored, specs, StageFormat, fmt.Errorf("unsupported extension %q", path.Ext(stored.Name)))
	}
	target, ok := e.targetFormat(source)
	if !ok {
		return nil, nil
	}

	data, err := e.store.Read(ctx, stored.Path)
	if err != nil {
		return nil, e.failAll(stored, specs, StageRead, err)
	}
	img, err := e.codec.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, e.failAll(stored, specs, StageDecode, err)
	}

	results := make([]*models.Derivative, len(specs))
	errs := make([]error, len(specs))
	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			start := time.Now()
			d, err := e.deriveOne(ctx, stored, img, spec, target)
			e.observer.RecordDerivative(spec.Name, time.Since(start), err)
			if err != nil {
				e.log.Warn().Err(err).Str("original", stored.Name).Str("spec", spec.Name).Msg("derivative failed")
				errs[i] = err
				return nil
			}
			results[i] = &d
			return nil
		})
	}
	_ = g.Wait()

	derivatives := make([]models.Derivative, 0, len(specs))
	for _, d := range results {
		if d != nil {
			derivatives = append(derivatives, *d)
		}
	}
	return derivatives, errors.Join(errs...)
}

func (e *Engine) deriveOne(ctx context.Context, stored models.StoredAsset, img image.Image, spec Spec, target Format) (models.Derivative, error) {
	bounds := img.Bounds()
	w, h := Fit(bounds.Dx(), bounds.Dy(), spec.Width, spec.Height)
	resized := e.codec.Resize(img, w, h)

	var buf bytes.Buffer
	if err := e.codec.Encode(&buf, resized, target); err != nil {
		return models.Derivative{}, &DerivativeError{Original: stored.Name, Spec: spec.Name, Stage: StageEncode, Err: err}
	}

	p := e.resolver.DerivativePath(stored.Name, spec.Name)
	size := int64(buf.Len())
	if _, err := e.store.Write(ctx, p, buf.Bytes(), target.MIME()); err != nil {
		if !errors.Is(err, storage.ErrExists) {
			return models.Derivative{}, &DerivativeError{Original: stored.Name, Spec: spec.Name, Stage: StageWrite, Err: err}
		}
		if info, statErr := e.store.Stat(ctx, p); statErr == nil {
			size = info.Size
		}
	}

	return models.Derivative{
		Original:  stored.Name,
		Spec:      spec.Name,
		Name:      path.Base(p),
		Path:      p,
		Width:     w,
		Height:    h,
		SizeBytes: size,
		EncodedAs: string(target),
		Reference: e.resolver.ToReference(p),
	}, nil
}

// targetFormat picks the encoder for a source format, falling back when the
// codec has none. The gap is logged once per format.
func (e *Engine) targetFormat(source Format) (Format, bool) {
	if e.codec.CanEncode(source) {
		return source, true
	}
	usable := e.fallback != "" && e.codec.CanEncode(e.fallback)
	if _, seen := e.gaps.LoadOrStore(source, struct{}{}); !seen {
		if usable {
			e.log.Warn().Str("format", string(source)).Str("fallback", string(e.fallback)).Msg("no encoder for format, derivatives use fallback encoding")
		} else {
			e.log.Warn().Str("format", string(source)).Msg("no encoder for format, derivatives skipped")
		}
	}
	if !usable {
		return "", false
	}
	return e.fallback, true
}

func (e *Engine) failAll(stored models.StoredAsset, specs []Spec, stage string, err error) error {
	errs := make([]error, len(specs))
	for i, spec := range specs {
		errs[i] = &DerivativeError{Original: stored.Name, Spec: spec.Name, Stage: stage, Err: err}
		e.observer.RecordDerivative(spec.Name, 0, errs[i])
	}
	e.log.Warn().Err(err).Str("original", stored.Name).Str("stage", stage).Msg("derivatives failed")
	return errors.Join(errs...)
}

// DeleteAll removes every derivative nameable from storedName and returns
// how many existed. Failures are logged and skipped.
func (e *Engine) DeleteAll(ctx context.Context, storedName string) int {
	deleted := 0
	for _, spec := range e.specs {
		p := e.resolver.DerivativePath(storedName, spec.Name)
		ok, err := e.store.Delete(ctx, p)
		if err != nil {
			e.log.Warn().Err(err).Str("derivative", p).Msg("delete derivative failed")
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted
}

// Missing lists the specs whose derivative of storedName is absent.
func (e *Engine) Missing(ctx context.Context, storedName string) ([]Spec, error) {
	var missing []Spec
	for _, spec := range e.specs {
		exists, err := e.store.Exists(ctx, e.resolver.DerivativePath(storedName, spec.Name))
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, spec)
		}
	}
	return missing, nil
}

func (e *Engine) URLFor(storedName, spec string) string {
	return e.resolver.ToReference(e.resolver.DerivativePath(storedName, spec))
}
