package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

type DBPinger interface {
	PingContext(ctx context.Context) error
}

type BrokerStatus interface {
	Connected() bool
}

type HealthDeps struct {
	DB     DBPinger
	Redis  *redis.Client
	Broker BrokerStatus
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

// ReadyzHandler reports not ready when any configured dependency is down.
func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true
		record := func(name string, ok bool) {
			if ok {
				checks[name] = "ok"
				return
			}
			checks[name] = "down"
			ready = false
		}

		if deps.DB != nil {
			record("postgres", deps.DB.PingContext(ctx) == nil)
		}
		if deps.Redis != nil {
			record("redis", deps.Redis.Ping(ctx).Err() == nil)
		}
		if deps.Broker != nil {
			record("rabbitmq", deps.Broker.Connected())
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
