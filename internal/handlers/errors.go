package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"portfolio/imagestore/internal/reference"
	"portfolio/imagestore/internal/service"
	"portfolio/imagestore/internal/storage"
	"portfolio/imagestore/internal/validate"
)

// respondError maps domain errors to status codes. Anything unrecognised is
// a storage or system failure and is not echoed to the client.
func (h HandlerSet) respondError(c *gin.Context, err error) {
	var verr *validate.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": string(verr.Kind), "reason": verr.Reason})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, reference.ErrInvalidReference), errors.Is(err, storage.ErrInvalidName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_reference"})
	case errors.Is(err, service.ErrUnknownSize):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_size", "sizes": h.sizeNames()})
	default:
		_ = c.Error(err)
		h.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
	}
}

func (h HandlerSet) sizeNames() []string {
	sizes := h.images.Sizes()
	names := make([]string, len(sizes))
	for i, s := range sizes {
		names[i] = s.Name
	}
	return names
}
