package router_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-realtime/internal/config"
	"github.com/noah-isme/gema-realtime/internal/handler"
	"github.com/noah-isme/gema-realtime/internal/middleware"
	"github.com/noah-isme/gema-realtime/internal/realtime"
	"github.com/noah-isme/gema-realtime/internal/repository"
	"github.com/noah-isme/gema-realtime/internal/router"
	"github.com/noah-isme/gema-realtime/internal/service"
)

func newDevApp(t *testing.T) *fiber.App {
	t.Helper()
	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	hub := realtime.NewHub(logger)
	presence := service.NewPresenceService(repository.NewMemoryPresenceRepository(), hub, validate, logger)
	cipher, err := service.NewContentCipher("")
	require.NoError(t, err)
	store := repository.NewMemoryMessagingStore()
	messages := service.NewMessageService(service.MessageServiceConfig{
		Threads:     store.Threads(),
		Messages:    store.Messages(),
		Broadcaster: hub,
		Cipher:      cipher,
		Validator:   validate,
		Logger:      logger,
	})

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger, FrontendOrigin: "http://localhost:5173"})
	router.Register(app, config.Config{AppName: "GEMA Realtime", DevMode: true}, router.Dependencies{
		DatabaseHealth:   handler.NewDatabaseHealthHandler(nil, true, logger),
		BroadcastHandler: handler.NewBroadcastHandler(hub, validate, logger),
		PresenceHandler:  handler.NewPresenceHandler(presence, validate, logger),
		MessageHandler:   handler.NewMessageHandler(messages, validate, nil, logger),
		AuthMiddleware:   middleware.DevIdentity(),
	})
	return app
}

func get(t *testing.T, app *fiber.App, path string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	return resp
}

func TestRegisterDevModeRoutes(t *testing.T) {
	app := newDevApp(t)

	resp := get(t, app, "/api/health")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "GEMA Realtime", resp.Header.Get("X-Application"))

	resp = get(t, app, "/api/db/health")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = get(t, app, "/api/presence/active-users")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = get(t, app, "/api/messages/inbox")
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/messages/inbox", nil)
	req.Header.Set("X-User-ID", "p-1")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRegisterExposesMetrics(t *testing.T) {
	app := newDevApp(t)
	_ = get(t, app, "/api/health")

	resp := get(t, app, "/metrics")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "http_requests_total")
}
