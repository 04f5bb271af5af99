package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentHealth `json:"components"`
}

// RegisterHealthRoutes mounts the liveness and readiness endpoints. Liveness
// never touches dependencies; readiness pings each backing store with a
// bounded timeout.
func RegisterHealthRoutes(app fiber.Router, sqlDB *sql.DB, rdb *redis.Client) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(sqlDB, rdb))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(sqlDB *sql.DB, rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		resp := readinessResponse{
			Status: "ready",
			Components: map[string]componentHealth{
				"postgres": checkComponent(sqlDB.PingContext(ctx)),
				"redis":    checkComponent(rdb.Ping(ctx).Err()),
			},
		}

		statusCode := fiber.StatusOK
		for _, component := range resp.Components {
			if component.Status != "up" {
				resp.Status = "unavailable"
				statusCode = fiber.StatusServiceUnavailable
				break
			}
		}

		return c.Status(statusCode).JSON(resp)
	}
}

func checkComponent(err error) componentHealth {
	if err != nil {
		return componentHealth{Status: "down", Error: err.Error()}
	}
	return componentHealth{Status: "up"}
}
