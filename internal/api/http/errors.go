package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/geomag"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func newErrorBody(err *geomag.Error) *errorBody {
	return &errorBody{Error: string(err.Kind), Detail: err.Message}
}

// StatusFor maps an error kind to an HTTP status code.
func StatusFor(kind geomag.Kind) int {
	switch kind {
	case geomag.KindInvalidQuery:
		return fiber.StatusBadRequest
	case geomag.KindNotFound:
		return fiber.StatusNotFound
	case geomag.KindEmptySeries:
		return fiber.StatusUnprocessableEntity
	case geomag.KindInvalidResponse:
		return fiber.StatusBadGateway
	case geomag.KindUpstreamUnavailable:
		return fiber.StatusServiceUnavailable
	case geomag.KindUpstreamTimeout:
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler is the centralized error response for the app.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var gerr *geomag.Error
		if errors.As(err, &gerr) {
			code := StatusFor(gerr.Kind)
			if code >= fiber.StatusInternalServerError {
				logger.Warn("request failed upstream",
					zap.String("path", c.Path()),
					zap.Int("status", code),
					zap.Error(err),
				)
			}
			return c.Status(code).JSON(newErrorBody(gerr))
		}

		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			return c.Status(ferr.Code).JSON(errorBody{Error: "http_error", Detail: ferr.Message})
		}

		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: "internal", Detail: "internal server error"})
	}
}
