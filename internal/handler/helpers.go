package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/middleware"
	"github.com/noah-isme/gema-realtime/internal/service"
)

func actorFromContext(c *fiber.Ctx) service.Actor {
	return service.Actor{
		ID:   middleware.UserID(c),
		Role: middleware.UserRole(c),
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func parseQueryBool(c *fiber.Ctx, key string) bool {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	return err == nil && parsed
}

// parseOptionalBody decodes the request body into target unless the body is empty.
func parseOptionalBody(c *fiber.Ctx, target interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(target)
}

func isValidationError(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
