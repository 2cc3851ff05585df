package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"datadesk/internal/service"
)

// jsonSuccess returns a 200 response with data wrapped in the standard envelope.
func jsonSuccess(c fiber.Ctx, data any) error {
	return jsonStatus(c, fiber.StatusOK, data, "")
}

// jsonStatus returns data in the standard envelope with the given status.
// A non-empty warning is added for operations that succeeded with caveats.
func jsonStatus(c fiber.Ctx, status int, data any, warning string) error {
	body := fiber.Map{
		"status": "ok",
		"data":   data,
	}
	if warning != "" {
		body["warning"] = warning
	}
	return c.Status(status).JSON(body)
}

// jsonError returns an error response with the given HTTP status code.
func jsonError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

// serviceError maps service errors to HTTP responses. Unexpected errors are
// logged and reported as "failed to <action>".
func serviceError(c fiber.Ctx, err error, action string) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrConflict):
		return jsonError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrValidation):
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}
	slog.Error("request handler failed",
		"action", action,
		"path", c.Path(),
		"error", err,
	)
	return jsonError(c, fiber.StatusInternalServerError, "failed to "+action)
}
