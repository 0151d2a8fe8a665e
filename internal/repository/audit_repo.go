package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-realtime/internal/models"
)

// AuditRepository appends messaging audit entries.
type AuditRepository interface {
	Record(ctx context.Context, entry *models.MessageAudit) error
	ListByActor(ctx context.Context, actorUserID string, limit int) ([]models.MessageAudit, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository constructs an audit repository backed by GORM.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Record(ctx context.Context, entry *models.MessageAudit) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByActor(ctx context.Context, actorUserID string, limit int) ([]models.MessageAudit, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var entries []models.MessageAudit
	if err := r.db.WithContext(ctx).
		Where("actor_user_id = ?", actorUserID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
