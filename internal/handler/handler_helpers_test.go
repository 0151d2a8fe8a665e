package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-realtime/internal/realtime"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

type requestOptions struct {
	userID string
	role   string
	body   interface{}
	raw    string
}

func doRequest(t *testing.T, app *fiber.App, method, path string, opts requestOptions) *http.Response {
	t.Helper()

	var reader io.Reader
	switch {
	case opts.raw != "":
		reader = bytes.NewBufferString(opts.raw)
	case opts.body != nil:
		payload, err := json.Marshal(opts.body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if opts.userID != "" {
		req.Header.Set("X-User-ID", opts.userID)
	}
	if opts.role != "" {
		req.Header.Set("X-User-Role", opts.role)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	global []realtime.OutboundEvent
	rooms  map[realtime.Room][]realtime.OutboundEvent
}

func (b *recordingBroadcaster) BroadcastGlobal(_ context.Context, evt realtime.OutboundEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, evt)
}

func (b *recordingBroadcaster) BroadcastToRoom(_ context.Context, room realtime.Room, evt realtime.OutboundEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms == nil {
		b.rooms = make(map[realtime.Room][]realtime.OutboundEvent)
	}
	b.rooms[room] = append(b.rooms[room], evt)
}

func (b *recordingBroadcaster) globalEvents() []realtime.OutboundEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]realtime.OutboundEvent, len(b.global))
	copy(out, b.global)
	return out
}
