package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"reaction-reminder/internal/domain"
	"reaction-reminder/internal/gateway"
)

// ErrorHandler renders every handler error as a JSON body and maps it to an
// HTTP status. Route handlers return raw service errors; the translation to
// status codes happens in one place here.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		status := statusFromError(err)

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		}
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}
}

func statusFromError(err error) int {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr.Code
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case gateway.IsNotFound(err):
		return fiber.StatusNotFound
	case gateway.IsPermission(err):
		return fiber.StatusForbidden
	case gateway.IsTransient(err):
		return fiber.StatusBadGateway
	}

	return fiber.StatusInternalServerError
}
