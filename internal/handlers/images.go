package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"portfolio/imagestore/internal/media/sniffer"
	"portfolio/imagestore/internal/models"
	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/validate"
)

func (h HandlerSet) UploadImage(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  string(validate.KindTooLarge),
				"reason": "file exceeds the maximum size of " + h.images.Policy().MaxBytesHuman(),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_required"})
		return
	}
	defer file.Close()

	result, err := h.images.Ingest(c.Request.Context(), validate.UploadCandidate{
		Body:        file,
		ContentType: sniffer.MimeTypeFromHTTP(http.Header(header.Header)),
		Filename:    header.Filename,
		Size:        header.Size,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h HandlerSet) DeleteImage(c *gin.Context) {
	ref := c.Query("ref")
	if ref == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ref_required"})
		return
	}

	deleted, err := h.images.Delete(c.Request.Context(), ref)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type fileInfoResponse struct {
	models.FileInfo
	FormattedSize string `json:"formattedSize"`
}

func (h HandlerSet) ImageInfo(c *gin.Context) {
	info, err := h.images.Introspect(c.Request.Context(), c.Query("ref"))
	if err != nil {
		if errors.Is(err, reference.ErrInvalidReference) {
			err = storage.ErrNotFound
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fileInfoResponse{FileInfo: info, FormattedSize: info.FormattedSize()})
}

func (h HandlerSet) ThumbnailReference(c *gin.Context) {
	ref, err := h.images.ThumbnailReference(c.Query("ref"), c.Query("size"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reference": ref})
}

type sizeResponse struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (h HandlerSet) Policy(c *gin.Context) {
	policy := h.images.Policy()
	sizes := make([]sizeResponse, 0)
	for _, s := range h.images.Sizes() {
		sizes = append(sizes, sizeResponse{Name: s.Name, Width: s.Width, Height: s.Height})
	}
	c.JSON(http.StatusOK, gin.H{
		"allowedMimeTypes":  policy.AllowedMIMEs(),
		"allowedExtensions": policy.AllowedExtensions(),
		"maxBytes":          policy.MaxBytes,
		"maxSize":           policy.MaxBytesHuman(),
		"sizes":             sizes,
	})
}

// sniffLen covers every signature mimetype checks for images.
const sniffLen = 3072

// ServeFile streams a stored file. The content type comes from the bytes,
// since a fallback-encoded derivative keeps its source extension.
func (h HandlerSet) ServeFile(c *gin.Context) {
	ref := c.Request.URL.Path
	rc, info, err := h.images.Open(c.Request.Context(), ref)
	if err != nil {
		if errors.Is(err, reference.ErrInvalidReference) {
			err = storage.ErrNotFound
		}
		h.respondError(c, err)
		return
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		h.respondError(c, err)
		return
	}
	head = head[:n]

	c.DataFromReader(http.StatusOK, info.Size, sniffer.NormalizeMIME(mimetype.Detect(head).String()),
		io.MultiReader(bytes.NewReader(head), rc),
		map[string]string{
			"Cache-Control":          "public, max-age=31536000, immutable",
			"X-Content-Type-Options": "nosniff",
			"Last-Modified":          info.ModTime.UTC().Format(http.TimeFormat),
			"ETag":                   strconv.Quote(strconv.FormatInt(info.ModTime.UnixNano(), 36) + "-" + strconv.FormatInt(info.Size, 36)),
		})
}
