package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-realtime/internal/models"
)

// ThreadRepository persists conversation threads, their participants and per-user archive state.
type ThreadRepository interface {
	Create(ctx context.Context, thread *models.MessageThread, participants []models.MessageParticipant) error
	FindByID(ctx context.Context, id string) (models.MessageThread, error)
	ListForUser(ctx context.Context, userID string, includeArchived bool) ([]models.MessageThread, error)
	Participants(ctx context.Context, threadID string) ([]models.MessageParticipant, error)
	IsParticipant(ctx context.Context, threadID, userID string) (bool, error)
	OtherParticipants(ctx context.Context, threadID, excludeUserID string) ([]string, error)
	Touch(ctx context.Context, threadID string, at time.Time) error
	Archive(ctx context.Context, userID, threadID string, at time.Time) error
	Unarchive(ctx context.Context, userID, threadID string) error
}

type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository constructs a thread repository backed by GORM.
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

func (r *threadRepository) Create(ctx context.Context, thread *models.MessageThread, participants []models.MessageParticipant) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(thread).Error; err != nil {
			return err
		}
		for i := range participants {
			participants[i].ThreadID = thread.ID
		}
		if len(participants) == 0 {
			return nil
		}
		// A user listed twice is stored once.
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error
	})
}

func (r *threadRepository) FindByID(ctx context.Context, id string) (models.MessageThread, error) {
	var thread models.MessageThread
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&thread).Error; err != nil {
		return models.MessageThread{}, err
	}
	return thread, nil
}

func (r *threadRepository) ListForUser(ctx context.Context, userID string, includeArchived bool) ([]models.MessageThread, error) {
	query := r.db.WithContext(ctx).
		Model(&models.MessageThread{}).
		Where("EXISTS (SELECT 1 FROM message_participants p WHERE p.thread_id = message_threads.id AND p.user_id = ?)", userID)
	if !includeArchived {
		query = query.Where("NOT EXISTS (SELECT 1 FROM message_archives a WHERE a.thread_id = message_threads.id AND a.user_id = ?)", userID)
	}

	var threads []models.MessageThread
	if err := query.Order("last_message_at DESC").Find(&threads).Error; err != nil {
		return nil, err
	}
	return threads, nil
}

func (r *threadRepository) Participants(ctx context.Context, threadID string) ([]models.MessageParticipant, error) {
	var participants []models.MessageParticipant
	if err := r.db.WithContext(ctx).Where("thread_id = ?", threadID).Order("user_id ASC").Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *threadRepository) IsParticipant(ctx context.Context, threadID, userID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.MessageParticipant{}).
		Where("thread_id = ? AND user_id = ?", threadID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *threadRepository) OtherParticipants(ctx context.Context, threadID, excludeUserID string) ([]string, error) {
	var userIDs []string
	if err := r.db.WithContext(ctx).
		Model(&models.MessageParticipant{}).
		Where("thread_id = ? AND user_id <> ?", threadID, excludeUserID).
		Order("user_id ASC").
		Pluck("user_id", &userIDs).Error; err != nil {
		return nil, err
	}
	return userIDs, nil
}

func (r *threadRepository) Touch(ctx context.Context, threadID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.MessageThread{}).
		Where("id = ?", threadID).
		Update("last_message_at", at).Error
}

func (r *threadRepository) Archive(ctx context.Context, userID, threadID string, at time.Time) error {
	record := models.MessageArchive{UserID: userID, ThreadID: threadID, ArchivedAt: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"archived_at"}),
	}).Create(&record).Error
}

func (r *threadRepository) Unarchive(ctx context.Context, userID, threadID string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND thread_id = ?", userID, threadID).
		Delete(&models.MessageArchive{}).Error
}
