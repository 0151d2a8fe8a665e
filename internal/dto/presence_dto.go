package dto

import (
	"time"

	"github.com/noah-isme/gema-realtime/internal/models"
)

// PresenceOnlineRequest is the body of POST /presence/online.
type PresenceOnlineRequest struct {
	ClassID string `json:"classId" validate:"omitempty,max=64"`
}

// ActiveUsersQuery filters the active user listing.
type ActiveUsersQuery struct {
	Role    string `query:"role" validate:"omitempty,max=32"`
	ClassID string `query:"classId" validate:"omitempty,max=64"`
}

// PresenceResponse is a user's presence state.
type PresenceResponse struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	ClassID  *string   `json:"class_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// NewPresenceResponse converts a model into a DTO.
func NewPresenceResponse(model models.UserPresence) PresenceResponse {
	return PresenceResponse{
		UserID:   model.UserID,
		Role:     model.Role,
		ClassID:  model.ClassID,
		IsOnline: model.IsOnline,
		LastSeen: model.LastSeen,
	}
}

// NewPresenceResponseSlice converts a slice of models into DTOs.
func NewPresenceResponseSlice(items []models.UserPresence) []PresenceResponse {
	out := make([]PresenceResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewPresenceResponse(item))
	}
	return out
}
