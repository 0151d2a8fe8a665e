package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-realtime/internal/handler"
	"github.com/noah-isme/gema-realtime/internal/realtime"
)

type clockStub struct {
	now time.Time
	err error
}

func (c clockStub) Now(context.Context) (time.Time, error) {
	return c.now, c.err
}

func TestHealthCheckAlwaysOK(t *testing.T) {
	app := fiber.New()
	app.Get("/api/health", handler.HealthCheck())

	resp := doRequest(t, app, http.MethodGet, "/api/health", requestOptions{})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeResponse(t, resp, &body)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "Server is running", body["message"])
}

func TestDatabaseHealthReportsClock(t *testing.T) {
	dbNow := time.Date(2024, 9, 2, 7, 30, 0, 0, time.UTC)
	app := fiber.New()
	app.Get("/api/db/health", handler.NewDatabaseHealthHandler(clockStub{now: dbNow}, false, testLogger()).Handle)

	resp := doRequest(t, app, http.MethodGet, "/api/db/health", requestOptions{})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		OK   bool      `json:"ok"`
		Now  time.Time `json:"now"`
		Mode string    `json:"mode"`
	}
	decodeResponse(t, resp, &body)
	require.True(t, body.OK)
	require.True(t, dbNow.Equal(body.Now))
	require.Empty(t, body.Mode)
}

func TestDatabaseHealthDevModeShortCircuits(t *testing.T) {
	app := fiber.New()
	app.Get("/api/db/health", handler.NewDatabaseHealthHandler(clockStub{err: errors.New("must not be called")}, true, testLogger()).Handle)

	resp := doRequest(t, app, http.MethodGet, "/api/db/health", requestOptions{})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeResponse(t, resp, &body)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "dev", body["mode"])
	require.NotEmpty(t, body["now"])
}

func TestDatabaseHealthFailure(t *testing.T) {
	app := fiber.New()
	app.Get("/api/db/health", handler.NewDatabaseHealthHandler(clockStub{err: errors.New("connection refused")}, false, testLogger()).Handle)

	resp := doRequest(t, app, http.MethodGet, "/api/db/health", requestOptions{})
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

	var body map[string]interface{}
	decodeResponse(t, resp, &body)
	require.Equal(t, false, body["ok"])
	require.Contains(t, body["error"], "connection refused")
}

func TestTestBroadcastDefaults(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	app := fiber.New()
	app.Post("/api/test/broadcast", handler.NewBroadcastHandler(broadcaster, testValidator(), testLogger()).Handle)

	resp := doRequest(t, app, http.MethodPost, "/api/test/broadcast", requestOptions{})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	decodeResponse(t, resp, &body)
	require.Equal(t, map[string]interface{}{"ok": true}, body)

	events := broadcaster.globalEvents()
	require.Len(t, events, 1)
	notification, ok := events[0].(realtime.Notification)
	require.True(t, ok)
	require.Equal(t, "Test broadcast", notification.Message)
	require.Equal(t, "info", notification.Type)
	require.False(t, notification.Timestamp.IsZero())
}

func TestTestBroadcastSanitizesMessage(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	app := fiber.New()
	app.Post("/api/test/broadcast", handler.NewBroadcastHandler(broadcaster, testValidator(), testLogger()).Handle)

	resp := doRequest(t, app, http.MethodPost, "/api/test/broadcast", requestOptions{
		body: map[string]string{"message": "<script>x()</script>Exam moved", "type": "warning"},
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	notification := broadcaster.globalEvents()[0].(realtime.Notification)
	require.Equal(t, "Exam moved", notification.Message)
	require.Equal(t, "warning", notification.Type)

	resp = doRequest(t, app, http.MethodPost, "/api/test/broadcast", requestOptions{raw: "{not json"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	require.Len(t, broadcaster.globalEvents(), 1)
}
