package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// readinessProbe is one named dependency check run by the readiness endpoint.
type readinessProbe struct {
	name  string
	check func(ctx context.Context) error
}

// RegisterHealthRoutes mounts the liveness and readiness endpoints. Readiness
// covers postgres and redis; the broker is not probed because the consumer
// supervisor exits the process when that connection drops.
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
	probes := []readinessProbe{
		{name: "postgres", check: sqlDB.PingContext},
		{name: "redis", check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}

	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), readinessTimeout)
		defer cancel()

		checks := make(fiber.Map, len(probes))
		ready := true
		for _, probe := range probes {
			state := "ok"
			if err := probe.check(ctx); err != nil {
				state = "down"
				ready = false
			}
			checks[probe.name] = state
		}

		status := "ready"
		code := fiber.StatusOK
		if !ready {
			status = "not_ready"
			code = fiber.StatusServiceUnavailable
		}

		return c.Status(code).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
