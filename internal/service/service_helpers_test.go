package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-realtime/internal/database"
	"github.com/noah-isme/gema-realtime/internal/realtime"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func testValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.NewSchemaProvisioner(db, testLogger()).Ensure(context.Background()))
	return db
}

type recordedBroadcast struct {
	global bool
	room   realtime.Room
	event  realtime.OutboundEvent
}

type broadcasterStub struct {
	mu     sync.Mutex
	events []recordedBroadcast
}

func (b *broadcasterStub) BroadcastGlobal(_ context.Context, evt realtime.OutboundEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedBroadcast{global: true, event: evt})
}

func (b *broadcasterStub) BroadcastToRoom(_ context.Context, room realtime.Room, evt realtime.OutboundEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedBroadcast{room: room, event: evt})
}

func (b *broadcasterStub) recorded() []recordedBroadcast {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedBroadcast, len(b.events))
	copy(out, b.events)
	return out
}

func isValidation(err error) bool {
	var validationErrors validator.ValidationErrors
	return errors.As(err, &validationErrors)
}
