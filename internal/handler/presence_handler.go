package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/dto"
	"github.com/noah-isme/gema-realtime/internal/service"
	"github.com/noah-isme/gema-realtime/internal/utils"
)

// PresenceHandler exposes the presence tracker over REST.
type PresenceHandler struct {
	service   service.PresenceService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPresenceHandler creates a presence handler.
func NewPresenceHandler(svc service.PresenceService, validate *validator.Validate, logger zerolog.Logger) *PresenceHandler {
	return &PresenceHandler{
		service:   svc,
		validator: validate,
		logger:    logger.With().Str("component", "presence_handler").Logger(),
	}
}

// Register binds presence routes.
func (h *PresenceHandler) Register(router fiber.Router) {
	router.Get("/active-users", h.activeUsers)
	router.Post("/online", h.online)
	router.Post("/offline", h.offline)
}

func (h *PresenceHandler) activeUsers(c *fiber.Ctx) error {
	var query dto.ActiveUsersQuery
	if err := c.QueryParser(&query); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid query parameters")
	}

	users, err := h.service.ActiveUsers(requestContext(c), query)
	if err != nil {
		if isValidationError(err) {
			return utils.SendValidationError(c, err)
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list active users")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list active users")
	}
	return utils.SendSuccess(c, "active users", users)
}

func (h *PresenceHandler) online(c *fiber.Ctx) error {
	var req dto.PresenceOnlineRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, err)
	}

	actor := actorFromContext(c)
	if err := h.service.SetOnline(requestContext(c), actor.ID, actor.Role, req.ClassID); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("user_id", actor.ID).Msg("failed to mark user online")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update presence")
	}
	return utils.SendSuccess(c, "presence updated", fiber.Map{"is_online": true})
}

func (h *PresenceHandler) offline(c *fiber.Ctx) error {
	actor := actorFromContext(c)
	if err := h.service.SetOffline(requestContext(c), actor.ID); err != nil {
		requestLogger(h.logger, c).Error().Err(err).Str("user_id", actor.ID).Msg("failed to mark user offline")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to update presence")
	}
	return utils.SendSuccess(c, "presence updated", fiber.Map{"is_online": false})
}
