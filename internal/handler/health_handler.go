package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// HealthResponse represents the payload returned by the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthCheck reports that the process is up. It never touches the database.
func HealthCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(HealthResponse{Status: "ok", Message: "Server is running"})
	}
}

// DatabaseClock reads the current time from the relational store.
type DatabaseClock interface {
	Now(ctx context.Context) (time.Time, error)
}

// DatabaseHealthHandler reports relational store reachability.
type DatabaseHealthHandler struct {
	clock   DatabaseClock
	devMode bool
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDatabaseHealthHandler creates the handler. In dev mode there is no store
// and the handler answers with a synthetic payload.
func NewDatabaseHealthHandler(clock DatabaseClock, devMode bool, logger zerolog.Logger) *DatabaseHealthHandler {
	return &DatabaseHealthHandler{
		clock:   clock,
		devMode: devMode,
		logger:  logger.With().Str("component", "db_health_handler").Logger(),
		now:     time.Now,
	}
}

// Handle serves GET /api/db/health.
func (h *DatabaseHealthHandler) Handle(c *fiber.Ctx) error {
	if h.devMode || h.clock == nil {
		return c.JSON(fiber.Map{"ok": true, "mode": "dev", "now": h.now().UTC()})
	}

	now, err := h.clock.Now(requestContext(c))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("database health check failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"ok": false, "error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true, "now": now})
}
