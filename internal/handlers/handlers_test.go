package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio/imagestore/internal/derive"
	"portfolio/imagestore/internal/naming"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/service"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/thumbnail"
	"portfolio/imagestore/internal/validate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T, checks map[string]func(context.Context) error) *gin.Engine {
	t.Helper()
	store, err := storage.NewLocalStoreFs(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"), "/data", "thumbnails")
	require.NoError(t, err)
	codec, err := thumbnail.NewImagingCodec("linear", 85)
	require.NoError(t, err)
	specs := thumbnail.DefaultSpecs()
	resolver := reference.NewResolver("/images", "thumbnails", thumbnail.SpecNames(specs))
	engine := thumbnail.NewEngine(store, codec, resolver, specs)
	svc := service.NewIngestService(validate.New(validate.DefaultPolicy()), naming.NewGenerator(), store, engine, resolver, derive.NewInline(engine), nil, zerolog.Nop())

	if checks == nil {
		checks = map[string]func(context.Context) error{"storage": store.Ping}
	}
	h := NewHandlerSet(zerolog.Nop(), "test", svc, checks)
	r := gin.New()
	h.Register(r.Group("/api"))
	h.RegisterFiles(r, resolver.Prefix())
	return r
}

func pngFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 40, 20))))
	return buf.Bytes()
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func do(r http.Handler, method, target string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type uploadResponse struct {
	Reference  string            `json:"reference"`
	Thumbnails map[string]string `json:"thumbnails"`
}

func upload(t *testing.T, r http.Handler) uploadResponse {
	t.Helper()
	body, ct := multipartBody(t, "cover.png", "image/png", pngFile(t))
	w := do(r, http.MethodPost, "/api/v1/images", body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestUploadServeAndDelete(t *testing.T) {
	r := newRouter(t, nil)
	resp := upload(t, r)
	assert.Len(t, resp.Thumbnails, 3)

	w := do(r, http.MethodGet, resp.Reference, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, pngFile(t), w.Body.Bytes())

	w = do(r, http.MethodGet, resp.Thumbnails["SMALL"], nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	cfg, err := png.DecodeConfig(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 100, cfg.Height)

	w = do(r, http.MethodDelete, "/api/v1/images?ref="+url.QueryEscape(resp.Reference), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())

	w = do(r, http.MethodDelete, "/api/v1/images?ref="+url.QueryEscape(resp.Reference), nil, "")
	assert.JSONEq(t, `{"deleted":false}`, w.Body.String())

	w = do(r, http.MethodGet, resp.Thumbnails["SMALL"], nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUploadRejections(t *testing.T) {
	r := newRouter(t, nil)

	body, ct := multipartBody(t, "evil.png", "image/png", []byte("<?php echo 1; ?>"))
	w := do(r, http.MethodPost, "/api/v1/images", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"signature_mismatch"`)

	body, ct = multipartBody(t, "anim.gif", "image/gif", []byte("GIF89a"))
	w = do(r, http.MethodPost, "/api/v1/images", body, ct)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"unsupported_type"`)

	w = do(r, http.MethodPost, "/api/v1/images", bytes.NewBufferString("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := bytes.Repeat([]byte{0}, int(validate.DefaultMaxBytes)+128<<10)
	body, ct = multipartBody(t, "huge.png", "image/png", big)
	w = do(r, http.MethodPost, "/api/v1/images", body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	// Without a Content-Length the limit only trips while the form is read.
	body, ct = multipartBody(t, "huge.png", "image/png", big)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/images", body)
	req.Header.Set("Content-Type", ct)
	req.ContentLength = -1
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "too_large", jsonField(t, w, "error"))
}

func TestInfoAndThumbnailReference(t *testing.T) {
	r := newRouter(t, nil)
	resp := upload(t, r)

	w := do(r, http.MethodGet, "/api/v1/images/info?ref="+url.QueryEscape(resp.Reference), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var info map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "image/png", info["mime"])
	assert.Equal(t, resp.Reference, info["reference"])
	assert.NotEmpty(t, info["formattedSize"])

	w = do(r, http.MethodGet, "/api/v1/images/info?ref=/images/missing.png", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodGet, "/api/v1/images/info?ref=../../etc/passwd", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/api/v1/images/thumbnail?size=large&ref="+url.QueryEscape(resp.Reference), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, resp.Thumbnails["LARGE"], jsonField(t, w, "reference"))

	w = do(r, http.MethodGet, "/api/v1/images/thumbnail?size=poster&ref="+url.QueryEscape(resp.Reference), nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_size")
}

func TestPolicy(t *testing.T) {
	r := newRouter(t, nil)
	w := do(r, http.MethodGet, "/api/v1/policy", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		AllowedMimeTypes  []string `json:"allowedMimeTypes"`
		AllowedExtensions []string `json:"allowedExtensions"`
		MaxSize           string   `json:"maxSize"`
		Sizes             []struct {
			Name string `json:"name"`
		} `json:"sizes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []string{"image/jpeg", "image/png", "image/webp"}, body.AllowedMimeTypes)
	assert.Equal(t, []string{"jpeg", "jpg", "png", "webp"}, body.AllowedExtensions)
	assert.Equal(t, "10 MiB", body.MaxSize)
	assert.Len(t, body.Sizes, 3)
}

func TestHealth(t *testing.T) {
	r := newRouter(t, map[string]func(context.Context) error{
		"storage": func(context.Context) error { return nil },
	})
	w := do(r, http.MethodGet, "/api/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	r = newRouter(t, map[string]func(context.Context) error{
		"storage": func(context.Context) error { return nil },
		"redis":   func(context.Context) error { return errors.New("connection refused") },
	})
	w = do(r, http.MethodGet, "/api/healthz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"error"`)
}

func jsonField(t *testing.T, w *httptest.ResponseRecorder, key string) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	v, _ := body[key].(string)
	return v
}
