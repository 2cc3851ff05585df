package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"

	"datadesk/internal/db"
)

// HealthHandler reports whether the store is reachable.
type HealthHandler struct {
	store   db.Store
	timeout time.Duration
}

// NewHealthHandler creates a new API health handler.
func NewHealthHandler(store db.Store) *HealthHandler {
	return &HealthHandler{store: store, timeout: 3 * time.Second}
}

// Check lists requests as a liveness probe of the store.
func (h *HealthHandler) Check(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), h.timeout)
	defer cancel()

	if _, err := h.store.ListRequests(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		return jsonError(c, fiber.StatusServiceUnavailable, "store unavailable")
	}
	return jsonSuccess(c, fiber.Map{"store": "ok"})
}
