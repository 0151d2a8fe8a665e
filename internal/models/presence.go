package models

import "time"

// UserPresence is the last known online state of a user. IsOnline and LastSeen
// are always written together.
type UserPresence struct {
	UserID   string    `gorm:"primaryKey" json:"user_id"`
	Role     string    `gorm:"not null" json:"role"`
	ClassID  *string   `json:"class_id"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// TableName implements the GORM tabler interface.
func (UserPresence) TableName() string { return "user_presence" }
