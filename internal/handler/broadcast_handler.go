package handler

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/dto"
	"github.com/noah-isme/gema-realtime/internal/realtime"
	"github.com/noah-isme/gema-realtime/internal/service"
	"github.com/noah-isme/gema-realtime/internal/utils"
)

const (
	defaultBroadcastMessage = "Test broadcast"
	defaultBroadcastType    = "info"
)

// BroadcastHandler pushes an ad-hoc notification to every connected client.
type BroadcastHandler struct {
	broadcaster service.Broadcaster
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
}

// NewBroadcastHandler creates a broadcast handler.
func NewBroadcastHandler(broadcaster service.Broadcaster, validate *validator.Validate, logger zerolog.Logger) *BroadcastHandler {
	return &BroadcastHandler{
		broadcaster: broadcaster,
		validator:   validate,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "broadcast_handler").Logger(),
	}
}

// Handle serves POST /api/test/broadcast.
func (h *BroadcastHandler) Handle(c *fiber.Ctx) error {
	var req dto.TestBroadcastRequest
	if err := parseOptionalBody(c, &req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(req); err != nil {
		return utils.SendValidationError(c, err)
	}

	message := strings.TrimSpace(h.sanitizer.Sanitize(req.Message))
	if message == "" {
		message = defaultBroadcastMessage
	}
	kind := strings.TrimSpace(req.Type)
	if kind == "" {
		kind = defaultBroadcastType
	}

	h.broadcaster.BroadcastGlobal(requestContext(c), realtime.Notification{
		Type:      kind,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	requestLogger(h.logger, c).Info().Str("type", kind).Msg("test broadcast sent")

	return c.JSON(fiber.Map{"ok": true})
}
