package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-realtime/internal/models"
)

const (
	defaultInboxLimit  = 100
	maxSearchResults   = 200
	likePatternEscaper = `\`
)

// MessageRepository persists messages together with their flags and attachments.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id string) (models.Message, error)
	ListByThread(ctx context.Context, threadID string) ([]models.Message, error)
	ListInbox(ctx context.Context, userID string, limit int) ([]models.Message, error)
	Search(ctx context.Context, userID, query string, limit int) ([]models.Message, error)
	// MarkDelivered sets delivered_at only while it is still null. updated is
	// false when no row changed, either because the message was already
	// delivered or because it does not exist.
	MarkDelivered(ctx context.Context, id string, at time.Time) (senderID string, updated bool, err error)
	// MarkRead is the read_at counterpart of MarkDelivered.
	MarkRead(ctx context.Context, id string, at time.Time) (senderID string, updated bool, err error)
	Flag(ctx context.Context, userID, messageID string, at time.Time) error
	Unflag(ctx context.Context, userID, messageID string) error
	CreateAttachment(ctx context.Context, attachment *models.MessageAttachment) error
	ListAttachments(ctx context.Context, messageID string) ([]models.MessageAttachment, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) FindByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) ListByThread(ctx context.Context, threadID string) ([]models.Message, error) {
	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) ListInbox(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}

	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("to_user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) Search(ctx context.Context, userID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}

	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"

	var messages []models.Message
	if err := r.db.WithContext(ctx).
		Where("EXISTS (SELECT 1 FROM message_participants p WHERE p.thread_id = messages.thread_id AND p.user_id = ?)", userID).
		Where("(LOWER(COALESCE(subject, '')) LIKE ? ESCAPE '\\' OR LOWER(content) LIKE ? ESCAPE '\\')", pattern, pattern).
		Order("created_at DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepository) MarkDelivered(ctx context.Context, id string, at time.Time) (string, bool, error) {
	return r.markOnce(ctx, id, "delivered_at", at)
}

func (r *messageRepository) MarkRead(ctx context.Context, id string, at time.Time) (string, bool, error) {
	return r.markOnce(ctx, id, "read_at", at)
}

// markOnce moves column from null to at. The WHERE clause on the null state
// makes concurrent callers race safely: exactly one sees a changed row.
func (r *messageRepository) markOnce(ctx context.Context, id, column string, at time.Time) (string, bool, error) {
	var senderID string
	updated := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Message{}).
			Where("id = ? AND "+column+" IS NULL", id).
			Update(column, at)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		updated = true

		var senders []string
		if err := tx.Model(&models.Message{}).Where("id = ?", id).Pluck("from_user_id", &senders).Error; err != nil {
			return err
		}
		if len(senders) > 0 {
			senderID = senders[0]
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return senderID, updated, nil
}

func (r *messageRepository) Flag(ctx context.Context, userID, messageID string, at time.Time) error {
	record := models.MessageFlag{UserID: userID, MessageID: messageID, FlaggedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"flagged_at"}),
	}).Create(&record).Error
}

func (r *messageRepository) Unflag(ctx context.Context, userID, messageID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Delete(&models.MessageFlag{}).Error
}

func (r *messageRepository) CreateAttachment(ctx context.Context, attachment *models.MessageAttachment) error {
	return r.db.WithContext(ctx).Create(attachment).Error
}

func (r *messageRepository) ListAttachments(ctx context.Context, messageID string) ([]models.MessageAttachment, error) {
	var attachments []models.MessageAttachment
	if err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("uploaded_at ASC").
		Find(&attachments).Error; err != nil {
		return nil, err
	}
	return attachments, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(
		likePatternEscaper, likePatternEscaper+likePatternEscaper,
		"%", likePatternEscaper+"%",
		"_", likePatternEscaper+"_",
	).Replace(value)
}
