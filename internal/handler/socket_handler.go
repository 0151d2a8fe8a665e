package handler

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/dto"
	"github.com/noah-isme/gema-realtime/internal/middleware"
	"github.com/noah-isme/gema-realtime/internal/realtime"
	"github.com/noah-isme/gema-realtime/internal/utils"
)

const localSocketContext = "socket_ctx"

// SocketHandler exposes the realtime gateway: a WebSocket endpoint and the
// long-poll fallback for clients that cannot upgrade.
type SocketHandler struct {
	gateway *realtime.Gateway
	ctx     context.Context
	logger  zerolog.Logger
	config  realtime.GatewayConfig
	origins []string
}

// NewSocketHandler creates a socket handler. ctx bounds the lifetime of
// event handling for upgraded connections. When allowedOrigin is set, only
// browsers on that origin may upgrade, matching the CORS policy of the poll routes.
func NewSocketHandler(ctx context.Context, gateway *realtime.Gateway, cfg realtime.GatewayConfig, allowedOrigin string, logger zerolog.Logger) *SocketHandler {
	if ctx == nil {
		ctx = context.Background()
	}
	var origins []string
	if origin := strings.TrimRight(strings.TrimSpace(allowedOrigin), "/"); origin != "" {
		origins = []string{origin}
	}
	return &SocketHandler{
		gateway: gateway,
		ctx:     ctx,
		logger:  logger.With().Str("component", "socket_handler").Logger(),
		config:  cfg,
		origins: origins,
	}
}

// Register binds the transport routes.
func (h *SocketHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(localSocketContext, middleware.ContextWithCorrelation(h.ctx, middleware.GetCorrelationID(c)))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.serveWebSocket, websocket.Config{Origins: h.origins}))

	router.Post("/poll", h.openPoll)
	router.Get("/poll/:sid", h.poll)
	router.Post("/poll/:sid", h.submit)
	router.Delete("/poll/:sid", h.closePoll)
}

func (h *SocketHandler) serveWebSocket(conn *websocket.Conn) {
	ctx, ok := conn.Locals(localSocketContext).(context.Context)
	if !ok {
		ctx = h.ctx
	}
	h.gateway.ServeWebSocket(ctx, conn, realtime.Handshake{Role: conn.Query("role")})
}

func (h *SocketHandler) openPoll(c *fiber.Ctx) error {
	sid := h.gateway.OpenPoll(realtime.Handshake{Role: c.Query("role")})
	requestLogger(h.logger, c).Debug().Str("sid", sid).Msg("poll session opened")
	return c.Status(fiber.StatusCreated).JSON(dto.PollOpenResponse{
		SID:          sid,
		PingInterval: h.config.PingInterval.Milliseconds(),
		PingTimeout:  h.config.PingTimeout.Milliseconds(),
	})
}

func (h *SocketHandler) poll(c *fiber.Ctx) error {
	frames, err := h.gateway.Poll(requestContext(c), c.Params("sid"))
	if err != nil {
		return h.sessionError(c, err)
	}
	return c.JSON(fiber.Map{"events": frames})
}

func (h *SocketHandler) submit(c *fiber.Ctx) error {
	// The body is copied: fasthttp reuses the request buffer after the handler returns.
	frame := append([]byte(nil), c.Body()...)
	if len(frame) == 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "event envelope required")
	}
	if err := h.gateway.Submit(h.ctx, c.Params("sid"), frame); err != nil {
		return h.sessionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SocketHandler) closePoll(c *fiber.Ctx) error {
	if err := h.gateway.ClosePoll(c.Params("sid")); err != nil {
		return h.sessionError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *SocketHandler) sessionError(c *fiber.Ctx, err error) error {
	if errors.Is(err, realtime.ErrSessionNotFound) {
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	}
	if errors.Is(err, context.Canceled) {
		return c.SendStatus(fiber.StatusNoContent)
	}
	requestLogger(h.logger, c).Error().Err(err).Msg("poll request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "poll request failed")
}
