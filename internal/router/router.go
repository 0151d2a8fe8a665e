package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-realtime/internal/config"
	"github.com/noah-isme/gema-realtime/internal/handler"
	"github.com/noah-isme/gema-realtime/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	DatabaseHealth   *handler.DatabaseHealthHandler
	BroadcastHandler *handler.BroadcastHandler
	PresenceHandler  *handler.PresenceHandler
	MessageHandler   *handler.MessageHandler
	SocketHandler    *handler.SocketHandler
	// AuthMiddleware identifies the caller: JWT normally, trusted headers in dev mode.
	AuthMiddleware   fiber.Handler
	BroadcastLimiter fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck())

	if deps.DatabaseHealth != nil {
		api.Get("/db/health", deps.DatabaseHealth.Handle)
	}

	if deps.BroadcastHandler != nil {
		limiter := deps.BroadcastLimiter
		if limiter == nil {
			limiter = func(c *fiber.Ctx) error { return c.Next() }
		}
		api.Post("/test/broadcast", limiter, deps.BroadcastHandler.Handle)
	}

	auth := deps.AuthMiddleware
	if auth == nil {
		auth = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.PresenceHandler != nil {
		deps.PresenceHandler.Register(api.Group("/presence", auth))
	}

	if deps.MessageHandler != nil {
		deps.MessageHandler.Register(api.Group("/messages", auth))
	}

	if deps.SocketHandler != nil {
		deps.SocketHandler.Register(app.Group("/socket"))
	}
}
