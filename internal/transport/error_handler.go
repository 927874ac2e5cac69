package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/multichannel-notifier/internal/domain"
	"go.uber.org/zap"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Current string   `json:"current,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// StatusCode maps an error returned by a handler to its HTTP status.
func StatusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidState):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		code := StatusCode(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}

		body := errorResponse{Error: err.Error()}
		if code == fiber.StatusInternalServerError {
			body.Error = "internal server error"
		}
		var stateErr *domain.StateError
		if errors.As(err, &stateErr) {
			body.Current = stateErr.Current
			body.Allowed = stateErr.Allowed
		}

		return c.Status(code).JSON(body)
	}
}
