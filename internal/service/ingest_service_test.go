package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio/imagestore/internal/derive"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/naming"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
	"portfolio/imagestore/internal/validate"
)

type fixture struct {
	svc   *IngestService
	store *storage.LocalStore
}

func newFixture(t *testing.T, opts ...naming.Option) fixture {
	t.Helper()
	return newFixtureWith(t, nil, opts...)
}

// newFixtureWith derives inline unless another dispatcher is given.
func newFixtureWith(t *testing.T, dispatcher derive.Dispatcher, opts ...naming.Option) fixture {
	t.Helper()
	store, err := storage.NewLocalStoreFs(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"), "/data", "thumbnails")
	require.NoError(t, err)

	codec, err := thumbnail.NewImagingCodec("linear", 85)
	require.NoError(t, err)
	specs := thumbnail.DefaultSpecs()
	resolver := reference.NewResolver("/images", "thumbnails", thumbnail.SpecNames(specs))
	engine := thumbnail.NewEngine(store, codec, resolver, specs)
	if dispatcher == nil {
		dispatcher = derive.NewInline(engine)
	}

	svc := NewIngestService(
		validate.New(validate.DefaultPolicy()),
		naming.NewGenerator(opts...),
		store,
		engine,
		resolver,
		dispatcher,
		nil,
		zerolog.Nop(),
	)
	return fixture{svc: svc, store: store}
}

func encodedImage(t *testing.T, format string, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 3), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	switch format {
	case "png":
		require.NoError(t, png.Encode(&buf, img))
	case "jpeg":
		require.NoError(t, jpeg.Encode(&buf, img, nil))
	}
	return buf.Bytes()
}

func upload(data []byte, contentType, filename string) validate.UploadCandidate {
	return validate.UploadCandidate{
		Body:        bytes.NewReader(data),
		ContentType: contentType,
		Filename:    filename,
		Size:        int64(len(data)),
	}
}

func TestIngestStoresOriginalAndDerivatives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := encodedImage(t, "jpeg", 2000, 1000)

	result, err := f.svc.Ingest(ctx, upload(data, "image/jpeg", "holiday photo.JPG"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.Reference, "/images/"))
	assert.True(t, strings.HasSuffix(result.Reference, ".jpg"))
	assert.Equal(t, int64(len(data)), result.Asset.SizeBytes)
	assert.Len(t, result.Thumbnails, 3)

	stored, err := f.store.Read(ctx, result.Asset.Path)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	for _, ref := range result.Thumbnails {
		exists, err := f.svc.Exists(ctx, ref)
		require.NoError(t, err)
		assert.True(t, exists, ref)
	}

	info, err := f.svc.Introspect(ctx, result.Thumbnails["SMALL"])
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", info.MIME)
	rc, _, err := f.svc.Open(ctx, result.Thumbnails["SMALL"])
	require.NoError(t, err)
	thumb, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)
}

func TestIngestRejectionsWriteNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	pngData := encodedImage(t, "png", 8, 8)

	cases := []struct {
		name   string
		upload validate.UploadCandidate
		kind   validate.Kind
	}{
		{"empty", upload(nil, "image/png", "a.png"), validate.KindEmpty},
		{"oversize", upload(make([]byte, validate.DefaultMaxBytes+1), "image/png", "a.png"), validate.KindTooLarge},
		{"gif", upload([]byte("GIF89a......"), "image/gif", "a.gif"), validate.KindUnsupportedType},
		{"extension", upload(pngData, "image/png", "a.exe"), validate.KindInvalidExtension},
		{"spoofed", upload([]byte("MZ\x90\x00 not a png"), "image/png", "a.png"), validate.KindSignatureMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Ingest(ctx, tc.upload)
			var verr *validate.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Equal(t, tc.kind, verr.Kind)
		})
	}

	originals, err := f.store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, originals)
	thumbs, err := f.store.List(ctx, "thumbnails")
	require.NoError(t, err)
	assert.Empty(t, thumbs)
}

func TestIngestSurvivesUndecodableImage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// Valid signature, truncated body: stored, but no derivative can be made.
	data := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, []byte("truncated")...)

	result, err := f.svc.Ingest(ctx, upload(data, "image/png", "broken.png"))
	require.NoError(t, err)

	exists, err := f.svc.Exists(ctx, result.Reference)
	require.NoError(t, err)
	assert.True(t, exists)

	thumbs, err := f.store.List(ctx, "thumbnails")
	require.NoError(t, err)
	assert.Empty(t, thumbs)
}

func TestIngestRegeneratesTakenName(t *testing.T) {
	ctx := context.Background()
	tokens := []string{"aaaaaaaaaaaa", "aaaaaaaaaaaa", "bbbbbbbbbbbb"}
	var mu sync.Mutex
	next := func() string {
		mu.Lock()
		defer mu.Unlock()
		tok := tokens[0]
		if len(tokens) > 1 {
			tokens = tokens[1:]
		}
		return tok
	}
	fixed := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	f := newFixture(t, naming.WithClock(func() time.Time { return fixed }), naming.WithTokenSource(next))
	data := encodedImage(t, "png", 8, 8)

	first, err := f.svc.Ingest(ctx, upload(data, "image/png", "a.png"))
	require.NoError(t, err)
	second, err := f.svc.Ingest(ctx, upload(data, "image/png", "a.png"))
	require.NoError(t, err)

	assert.Contains(t, first.Reference, "_aaaaaaaaaaaa_")
	assert.Contains(t, second.Reference, "_bbbbbbbbbbbb_")

	_, err = f.svc.Ingest(ctx, upload(data, "image/png", "a.png"))
	assert.ErrorIs(t, err, storage.ErrExists)
}

type discardDispatcher struct{}

func (discardDispatcher) Dispatch(context.Context, models.StoredAsset) error {
	return derive.ErrQueueFull
}

func TestConcurrentIngestsNeverCollide(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWith(t, discardDispatcher{})
	data := encodedImage(t, "png", 4, 4)

	const n = 1000
	refs := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := f.svc.Ingest(ctx, upload(data, "image/png", "same.png"))
			refs[i], errs[i] = result.Reference, err
		}(i)
	}
	wg.Wait()

	require.NoError(t, errors.Join(errs...))
	seen := make(map[string]bool, n)
	for _, ref := range refs {
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}

	originals, err := f.store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, originals, n)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.svc.Ingest(ctx, upload(encodedImage(t, "png", 50, 40), "image/png", "a.png"))
	require.NoError(t, err)

	deleted, err := f.svc.Delete(ctx, result.Reference)
	require.NoError(t, err)
	assert.True(t, deleted)

	for _, ref := range append([]string{result.Reference}, valuesOf(result.Thumbnails)...) {
		exists, err := f.svc.Exists(ctx, ref)
		require.NoError(t, err)
		assert.False(t, exists, ref)
	}

	deleted, err = f.svc.Delete(ctx, result.Reference)
	require.NoError(t, err)
	assert.False(t, deleted)

	for _, ref := range []string{"", "/images/../../etc/passwd", "/other/a.png", "/images/thumbnails/x_small.png"} {
		deleted, err := f.svc.Delete(ctx, ref)
		assert.NoError(t, err, ref)
		assert.False(t, deleted, ref)
	}
}

func TestDeleteRemovesOrphanedDerivatives(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.store.Write(ctx, "thumbnails/lost_small.png", []byte("x"), "image/png")
	require.NoError(t, err)

	deleted, err := f.svc.Delete(ctx, "/images/lost.png")
	require.NoError(t, err)
	assert.False(t, deleted)

	exists, err := f.store.Exists(ctx, "thumbnails/lost_small.png")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIntrospect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	data := encodedImage(t, "png", 30, 30)

	result, err := f.svc.Ingest(ctx, upload(data, "image/png", "a.png"))
	require.NoError(t, err)

	info, err := f.svc.Introspect(ctx, result.Reference)
	require.NoError(t, err)
	assert.Equal(t, result.Asset.Name, info.Filename)
	assert.Equal(t, int64(len(data)), info.SizeBytes)
	assert.Equal(t, "image/png", info.MIME)
	assert.Equal(t, result.Reference, info.Reference)

	_, err = f.svc.Introspect(ctx, "/images/missing.png")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.Introspect(ctx, "/images/../secret")
	assert.ErrorIs(t, err, reference.ErrInvalidReference)
}

func TestThumbnailReference(t *testing.T) {
	f := newFixture(t)

	ref, err := f.svc.ThumbnailReference("/images/a.png", "medium")
	require.NoError(t, err)
	assert.Equal(t, "/images/thumbnails/a_medium.png", ref)

	_, err = f.svc.ThumbnailReference("/images/a.png", "HUGE")
	assert.ErrorIs(t, err, ErrUnknownSize)

	_, err = f.svc.ThumbnailReference("nope", "SMALL")
	assert.ErrorIs(t, err, reference.ErrInvalidReference)
}

func TestPolicy(t *testing.T) {
	f := newFixture(t)
	p := f.svc.Policy()
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/webp"}, p.AllowedMIMEs())
	assert.Equal(t, "10 MiB", p.MaxBytesHuman())
	assert.Len(t, f.svc.Sizes(), 3)
}

func valuesOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}

func ExampleIngestService_ThumbnailReference() {
	store, _ := storage.NewLocalStoreFs(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"), "/data", "thumbnails")
	codec, _ := thumbnail.NewImagingCodec("", 0)
	specs := thumbnail.DefaultSpecs()
	resolver := reference.NewResolver("/images", "thumbnails", thumbnail.SpecNames(specs))
	engine := thumbnail.NewEngine(store, codec, resolver, specs)
	svc := NewIngestService(validate.New(validate.DefaultPolicy()), naming.NewGenerator(), store, engine, resolver, nil, nil, zerolog.Nop())

	ref, _ := svc.ThumbnailReference("/images/20240309_140507_a1b2c3d4e5f6_QUJDREVG.png", "large")
	fmt.Println(ref)
	// Output: /images/thumbnails/20240309_140507_a1b2c3d4e5f6_QUJDREVG_large.png
}
