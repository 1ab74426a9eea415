package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"portfolio/imagestore/internal/middleware"
	"portfolio/imagestore/internal/service"
)

type HandlerSet struct {
	log         zerolog.Logger
	environment string
	images      *service.IngestService
	checks      map[string]func(context.Context) error
}

func NewHandlerSet(log zerolog.Logger, environment string, images *service.IngestService, checks map[string]func(context.Context) error) HandlerSet {
	return HandlerSet{
		log:         log,
		environment: environment,
		images:      images,
		checks:      checks,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.GET("/policy", h.Policy)

	images := v1.Group("/images")
	images.POST("", middleware.BodyLimit(h.images.Policy().MaxBytes), h.UploadImage)
	images.DELETE("", h.DeleteImage)
	images.GET("/info", h.ImageInfo)
	images.GET("/thumbnail", h.ThumbnailReference)
}

// RegisterFiles serves stored originals and derivatives under their public
// reference prefix.
func (h HandlerSet) RegisterFiles(router gin.IRouter, prefix string) {
	router.GET(prefix+"/*name", h.ServeFile)
	router.HEAD(prefix+"/*name", h.ServeFile)
}
