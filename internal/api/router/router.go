// Package router provides HTTP routing configuration using Chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/remiblancher/asic/internal/api/handler"
	"github.com/remiblancher/asic/internal/api/middleware"
	"github.com/remiblancher/asic/internal/api/service"
	"github.com/remiblancher/asic/internal/metrics"
)

// Config holds router configuration.
type Config struct {
	Version string

	// Containers serves every /api/v1 route.
	Containers *service.ContainerService

	// Metrics exposes /metrics when set.
	Metrics bool
}

// New creates a new Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS)

	// Health endpoints (always enabled)
	healthHandler := handler.NewHealthHandler(cfg.Version, cfg.Containers.Services())
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	if cfg.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	containerHandler := handler.NewContainerHandler(cfg.Containers)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/containers", func(r chi.Router) {
			r.Post("/", containerHandler.Create)
			r.Get("/{id}", containerHandler.Get)
			r.Delete("/{id}", containerHandler.Delete)
			r.Get("/{id}/download", containerHandler.Download)
			r.Post("/{id}/datatosign", containerHandler.DataToSign)
			r.Post("/{id}/extend", containerHandler.Extend)
			r.Post("/{id}/timestamp", containerHandler.Timestamp)
			r.Post("/{id}/validate", containerHandler.Validate)
		})

		// Remote signing sessions opened by datatosign
		r.Post("/sessions/{id}/finalize", containerHandler.Finalize)
	})

	return r
}
