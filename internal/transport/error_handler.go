package transport

import (
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/alert-relay/internal/observability"
	"go.uber.org/zap"
)

// ErrorHandler renders every handler error as a JSON body and logs it with
// the request's correlation id when one is present.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}

		body := fiber.Map{"error": err.Error()}
		if correlationID, ok := observability.CorrelationIDFromContext(c.UserContext()); ok {
			fields = append(fields, zap.String("correlationId", correlationID))
			body["correlationId"] = correlationID
		}

		logger.Error("request error", fields...)

		return c.Status(code).JSON(body)
	}
}
