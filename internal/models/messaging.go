package models

import (
	"time"

	"gorm.io/datatypes"
)

// MessageThread groups messages exchanged between a fixed set of participants.
type MessageThread struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	Subject       *string   `json:"subject"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// TableName implements the GORM tabler interface.
func (MessageThread) TableName() string { return "message_threads" }

// MessageParticipant records membership of a user in a thread.
type MessageParticipant struct {
	ThreadID string `gorm:"primaryKey" json:"thread_id"`
	UserID   string `gorm:"primaryKey" json:"user_id"`
	Role     string `gorm:"not null" json:"role"`
}

// TableName implements the GORM tabler interface.
func (MessageParticipant) TableName() string { return "message_participants" }

// Message is a single delivery from one user to another inside a thread.
type Message struct {
	ID          string     `gorm:"primaryKey" json:"id"`
	ThreadID    string     `gorm:"index" json:"thread_id"`
	FromUserID  string     `gorm:"not null" json:"from_user_id"`
	FromRole    string     `gorm:"not null" json:"from_role"`
	ToUserID    string     `gorm:"not null" json:"to_user_id"`
	ToRole      string     `gorm:"not null" json:"to_role"`
	Subject     *string    `json:"subject"`
	Content     string     `gorm:"not null" json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at"`
	ReadAt      *time.Time `json:"read_at"`
}

// TableName implements the GORM tabler interface.
func (Message) TableName() string { return "messages" }

// MessageAttachment describes a stored file attached to a message.
type MessageAttachment struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	MessageID  string    `gorm:"index" json:"message_id"`
	Filename   string    `gorm:"not null" json:"filename"`
	Mime       string    `gorm:"not null" json:"mime"`
	SizeBytes  int       `gorm:"not null" json:"size_bytes"`
	Path       string    `gorm:"not null" json:"path"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// TableName implements the GORM tabler interface.
func (MessageAttachment) TableName() string { return "message_attachments" }

// MessageFlag marks a message as flagged by a user.
type MessageFlag struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	MessageID string    `gorm:"primaryKey" json:"message_id"`
	FlaggedAt time.Time `json:"flagged_at"`
}

// TableName implements the GORM tabler interface.
func (MessageFlag) TableName() string { return "message_flags" }

// MessageArchive hides a thread from a user's default thread list.
type MessageArchive struct {
	UserID     string    `gorm:"primaryKey" json:"user_id"`
	ThreadID   string    `gorm:"primaryKey" json:"thread_id"`
	ArchivedAt time.Time `json:"archived_at"`
}

// TableName implements the GORM tabler interface.
func (MessageArchive) TableName() string { return "message_archives" }

// MessageAudit is an append-only record of messaging actions.
type MessageAudit struct {
	ID          string            `gorm:"primaryKey" json:"id"`
	ActorUserID string            `gorm:"not null" json:"actor_user_id"`
	Action      string            `gorm:"not null" json:"action"`
	MessageID   *string           `json:"message_id"`
	ThreadID    *string           `json:"thread_id"`
	Metadata    datatypes.JSONMap `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TableName implements the GORM tabler interface.
func (MessageAudit) TableName() string { return "message_audit" }
