package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/dto"
	"github.com/noah-isme/gema-realtime/internal/middleware"
	"github.com/noah-isme/gema-realtime/internal/service"
	"github.com/noah-isme/gema-realtime/internal/utils"
)

// MessageHandler serves threads, messages, flags, archives and attachments.
type MessageHandler struct {
	service   service.MessageService
	validator *validator.Validate
	logger    zerolog.Logger
	sendLimit fiber.Handler
}

// NewMessageHandler creates a message handler. sendLimit may be nil.
func NewMessageHandler(svc service.MessageService, validate *validator.Validate, sendLimit fiber.Handler, logger zerolog.Logger) *MessageHandler {
	if sendLimit == nil {
		sendLimit = func(c *fiber.Ctx) error { return c.Next() }
	}
	return &MessageHandler{
		service:   svc,
		validator: validate,
		logger:    logger.With().Str("component", "message_handler").Logger(),
		sendLimit: sendLimit,
	}
}

// Register binds message routes.
func (h *MessageHandler) Register(router fiber.Router) {
	router.Get("/threads", h.listThreads)
	router.Get("/threads/:threadId", h.getThread)
	router.Post("/threads", middleware.RequireRole("teacher", "admin"), h.createThread)
	router.Get("/inbox", h.inbox)
	router.Post("/send", h.sendLimit, h.send)
	router.Get("/search", h.search)
	router.Post("/flag", h.flag)
	router.Delete("/flag", h.unflag)
	router.Post("/archive", h.archive)
	router.Delete("/archive", h.unarchive)
	router.Post("/attach", h.attach)
	router.Post("/:messageId/read", h.markRead)
}

func (h *MessageHandler) listThreads(c *fiber.Ctx) error {
	threads, err := h.service.ListThreads(requestContext(c), actorFromContext(c), parseQueryBool(c, "archived"))
	if err != nil {
		return h.fail(c, err, "list threads")
	}
	return utils.SendSuccess(c, "threads retrieved", threads)
}

func (h *MessageHandler) getThread(c *fiber.Ctx) error {
	detail, err := h.service.GetThread(requestContext(c), actorFromContext(c), c.Params("threadId"))
	if err != nil {
		return h.fail(c, err, "get thread")
	}
	return utils.SendSuccess(c, "thread retrieved", detail)
}

func (h *MessageHandler) createThread(c *fiber.Ctx) error {
	var req dto.ThreadCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.CreateThread(requestContext(c), actorFromContext(c), req)
	if err != nil {
		return h.fail(c, err, "create thread")
	}
	return utils.SendCreated(c, "thread created", created)
}

func (h *MessageHandler) inbox(c *fiber.Ctx) error {
	messages, err := h.service.Inbox(requestContext(c), actorFromContext(c))
	if err != nil {
		return h.fail(c, err, "inbox")
	}
	return utils.SendSuccess(c, "inbox retrieved", messages)
}

func (h *MessageHandler) send(c *fiber.Ctx) error {
	var req dto.MessageSendRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.service.Send(requestContext(c), actorFromContext(c), req)
	if err != nil {
		return h.fail(c, err, "send message")
	}
	if len(created) == 1 {
		return utils.SendCreated(c, "message sent", created[0])
	}
	return utils.SendCreated(c, "message sent", created)
}

func (h *MessageHandler) markRead(c *fiber.Ctx) error {
	if err := h.service.MarkRead(requestContext(c), actorFromContext(c), c.Params("messageId")); err != nil {
		return h.fail(c, err, "mark read")
	}
	return utils.SendSuccess(c, "message marked as read", nil)
}

func (h *MessageHandler) search(c *fiber.Ctx) error {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		return utils.SendSuccess(c, "search results", []dto.MessageResponse{})
	}

	results, err := h.service.Search(requestContext(c), actorFromContext(c), query)
	if err != nil {
		return h.fail(c, err, "search messages")
	}
	return utils.SendSuccess(c, "search results", results)
}

func (h *MessageHandler) flag(c *fiber.Ctx) error {
	var req dto.FlagRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.service.Flag(requestContext(c), actorFromContext(c), req); err != nil {
		return h.fail(c, err, "flag message")
	}
	return utils.SendSuccess(c, "message flagged", nil)
}

func (h *MessageHandler) unflag(c *fiber.Ctx) error {
	var req dto.FlagRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.service.Unflag(requestContext(c), actorFromContext(c), req); err != nil {
		return h.fail(c, err, "unflag message")
	}
	return utils.SendSuccess(c, "message unflagged", nil)
}

func (h *MessageHandler) archive(c *fiber.Ctx) error {
	var req dto.ArchiveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.service.Archive(requestContext(c), actorFromContext(c), req); err != nil {
		return h.fail(c, err, "archive thread")
	}
	return utils.SendSuccess(c, "thread archived", nil)
}

func (h *MessageHandler) unarchive(c *fiber.Ctx) error {
	var req dto.ArchiveRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.service.Unarchive(requestContext(c), actorFromContext(c), req); err != nil {
		return h.fail(c, err, "unarchive thread")
	}
	return utils.SendSuccess(c, "thread unarchived", nil)
}

func (h *MessageHandler) attach(c *fiber.Ctx) error {
	var req dto.AttachRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	attachments, err := h.service.Attach(requestContext(c), actorFromContext(c), req)
	if err != nil {
		return h.fail(c, err, "attach files")
	}
	return utils.SendCreated(c, "attachments uploaded", attachments)
}

func (h *MessageHandler) fail(c *fiber.Ctx, err error, operation string) error {
	switch {
	case isValidationError(err):
		return utils.SendValidationError(c, err)
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrInvalidAttachment),
		errors.Is(err, service.ErrMissingUserID):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrThreadNotFound), errors.Is(err, service.ErrMessageNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrForbidden):
		return utils.SendError(c, fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrAttachmentTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Str("operation", operation).Msg("message request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, operation+" failed")
	}
}
