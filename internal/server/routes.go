package server

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datadesk/internal/db"
	"datadesk/internal/handlers/api"
	"datadesk/internal/service"
)

// RegisterRoutes registers all application routes.
func (s *Server) RegisterRoutes(svc *service.Service, store db.Store) {
	// Initialize handlers
	requestHandler := api.NewRequestHandler(svc)
	healthHandler := api.NewHealthHandler(store)

	// JSON API
	requestHandler.Register(s.App.Group("/api"))

	// Operations
	s.App.Get("/healthz", healthHandler.Check)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Unknown routes get the JSON error envelope
	s.App.Use(func(c fiber.Ctx) error {
		return fiber.ErrNotFound
	})
}
