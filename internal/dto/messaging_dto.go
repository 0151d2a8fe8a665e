package dto

import (
	"time"

	"github.com/noah-isme/gema-realtime/internal/models"
)

// ParticipantInput names a user to add to a thread.
type ParticipantInput struct {
	ID   string `json:"id" validate:"required,max=64"`
	Role string `json:"role" validate:"required,max=32"`
}

// ThreadCreateRequest is the payload for starting a conversation.
type ThreadCreateRequest struct {
	Subject      string             `json:"subject" validate:"omitempty,max=255"`
	Participants []ParticipantInput `json:"participants" validate:"required,min=2,dive"`
}

// MessageSendRequest is the payload for sending a message. Either a thread id
// or a recipient (toRole + toId) must be present.
type MessageSendRequest struct {
	ToRole    string `json:"toRole" validate:"required_without=ThreadID,max=32"`
	ToID      string `json:"toId" validate:"required_without=ThreadID,max=64"`
	Subject   string `json:"subject" validate:"omitempty,max=255"`
	Content   string `json:"content" validate:"required,max=10000"`
	ThreadID  string `json:"threadId" validate:"omitempty,max=64"`
	Sensitive bool   `json:"sensitive"`
}

// FlagRequest identifies a message to flag or unflag.
type FlagRequest struct {
	MessageID string `json:"messageId" validate:"required,max=64"`
}

// ArchiveRequest identifies a thread to archive or unarchive.
type ArchiveRequest struct {
	ThreadID string `json:"threadId" validate:"required,max=64"`
}

// AttachmentFile is one base64-encoded upload.
type AttachmentFile struct {
	Name   string `json:"name" validate:"required,max=255"`
	Mime   string `json:"mime" validate:"omitempty,max=128"`
	Base64 string `json:"base64" validate:"required,base64"`
}

// AttachRequest uploads files for an existing message.
type AttachRequest struct {
	MessageID string           `json:"messageId" validate:"required,max=64"`
	Files     []AttachmentFile `json:"files" validate:"required,min=1,dive"`
}

// ThreadResponse summarises a thread.
type ThreadResponse struct {
	ID            string    `json:"id"`
	Subject       *string   `json:"subject"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// ParticipantResponse is a thread member.
type ParticipantResponse struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// MessageResponse is the serialized representation of a message.
type MessageResponse struct {
	ID          string     `json:"id"`
	ThreadID    string     `json:"thread_id"`
	FromUserID  string     `json:"from_user_id"`
	FromRole    string     `json:"from_role"`
	ToUserID    string     `json:"to_user_id"`
	ToRole      string     `json:"to_role"`
	Subject     *string    `json:"subject"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// ThreadDetailResponse is a thread with its members and messages in ascending order.
type ThreadDetailResponse struct {
	Thread       ThreadResponse        `json:"thread"`
	Participants []ParticipantResponse `json:"participants"`
	Messages     []MessageResponse     `json:"messages"`
}

// ThreadCreatedResponse is returned after creating a thread.
type ThreadCreatedResponse struct {
	ID string `json:"id"`
}

// AttachmentResponse describes a stored upload.
type AttachmentResponse struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Mime     string `json:"mime"`
	Size     int    `json:"size"`
	URL      string `json:"url,omitempty"`
}

// NewThreadResponse converts a model into a DTO.
func NewThreadResponse(thread models.MessageThread) ThreadResponse {
	return ThreadResponse{
		ID:            thread.ID,
		Subject:       thread.Subject,
		LastMessageAt: thread.LastMessageAt,
	}
}

// NewThreadResponseSlice converts a slice of models into DTOs.
func NewThreadResponseSlice(threads []models.MessageThread) []ThreadResponse {
	out := make([]ThreadResponse, 0, len(threads))
	for _, thread := range threads {
		out = append(out, NewThreadResponse(thread))
	}
	return out
}

// NewParticipantResponseSlice converts participants into DTOs.
func NewParticipantResponseSlice(participants []models.MessageParticipant) []ParticipantResponse {
	out := make([]ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, ParticipantResponse{UserID: p.UserID, Role: p.Role})
	}
	return out
}

// NewMessageResponse converts a model into a DTO. content is passed separately
// because stored content may be encrypted.
func NewMessageResponse(message models.Message, content string) MessageResponse {
	return MessageResponse{
		ID:          message.ID,
		ThreadID:    message.ThreadID,
		FromUserID:  message.FromUserID,
		FromRole:    message.FromRole,
		ToUserID:    message.ToUserID,
		ToRole:      message.ToRole,
		Subject:     message.Subject,
		Content:     content,
		CreatedAt:   message.CreatedAt,
		DeliveredAt: message.DeliveredAt,
		ReadAt:      message.ReadAt,
	}
}

// NewAttachmentResponse converts a model into a DTO.
func NewAttachmentResponse(attachment models.MessageAttachment, url string) AttachmentResponse {
	return AttachmentResponse{
		ID:       attachment.ID,
		Filename: attachment.Filename,
		Mime:     attachment.Mime,
		Size:     attachment.SizeBytes,
		URL:      url,
	}
}
