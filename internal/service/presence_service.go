package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/dto"
	"github.com/noah-isme/gema-realtime/internal/realtime"
	"github.com/noah-isme/gema-realtime/internal/repository"
)

// Broadcaster fans events out to connected realtime clients.
type Broadcaster interface {
	BroadcastGlobal(ctx context.Context, evt realtime.OutboundEvent)
	BroadcastToRoom(ctx context.Context, room realtime.Room, evt realtime.OutboundEvent)
}

// PresenceService tracks who is online and announces every transition to all clients.
type PresenceService interface {
	SetOnline(ctx context.Context, userID, role, classID string) error
	SetOffline(ctx context.Context, userID string) error
	ActiveUsers(ctx context.Context, query dto.ActiveUsersQuery) ([]dto.PresenceResponse, error)
}

type presenceService struct {
	store       repository.PresenceRepository
	broadcaster Broadcaster
	validator   *validator.Validate
	logger      zerolog.Logger
	now         func() time.Time
}

// NewPresenceService constructs the presence tracker on top of the selected store.
func NewPresenceService(store repository.PresenceRepository, broadcaster Broadcaster, validate *validator.Validate, logger zerolog.Logger) PresenceService {
	return &presenceService{
		store:       store,
		broadcaster: broadcaster,
		validator:   validate,
		logger:      logger.With().Str("component", "presence_service").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetOnline records the user online and broadcasts the change. Nothing is
// broadcast when the write fails.
func (s *presenceService) SetOnline(ctx context.Context, userID, role, classID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("presence online: %w", ErrMissingUserID)
	}

	var class *string
	if trimmed := strings.TrimSpace(classID); trimmed != "" {
		class = &trimmed
	}

	record, err := s.store.MarkOnline(ctx, userID, strings.TrimSpace(role), class, s.now())
	if err != nil {
		return fmt.Errorf("presence online %s: %w", userID, err)
	}

	lastSeen := record.LastSeen
	s.broadcaster.BroadcastGlobal(ctx, realtime.PresenceUpdate{
		UserID:   record.UserID,
		Role:     record.Role,
		ClassID:  record.ClassID,
		IsOnline: true,
		LastSeen: &lastSeen,
	})
	s.logger.Debug().Str("user_id", userID).Msg("user online")
	return nil
}

// SetOffline records the user offline, keeping the previously known role and class.
func (s *presenceService) SetOffline(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("presence offline: %w", ErrMissingUserID)
	}

	record, err := s.store.MarkOffline(ctx, userID, s.now())
	if err != nil {
		return fmt.Errorf("presence offline %s: %w", userID, err)
	}

	lastSeen := record.LastSeen
	s.broadcaster.BroadcastGlobal(ctx, realtime.PresenceUpdate{
		UserID:   record.UserID,
		IsOnline: false,
		LastSeen: &lastSeen,
	})
	s.logger.Debug().Str("user_id", userID).Msg("user offline")
	return nil
}

func (s *presenceService) ActiveUsers(ctx context.Context, query dto.ActiveUsersQuery) ([]dto.PresenceResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}

	rows, err := s.store.ListOnline(ctx, repository.PresenceFilter{
		Role:    strings.TrimSpace(query.Role),
		ClassID: strings.TrimSpace(query.ClassID),
	})
	if err != nil {
		return nil, err
	}
	return dto.NewPresenceResponseSlice(rows), nil
}
