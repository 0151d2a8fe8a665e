package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-realtime/internal/models"
)

// PresenceFilter narrows the active user listing.
type PresenceFilter struct {
	Role    string
	ClassID string
}

// PresenceRepository stores the online state of users. Online flag and last
// seen are always written in the same statement.
type PresenceRepository interface {
	// MarkOnline upserts the user as online at the given time, replacing role and class.
	MarkOnline(ctx context.Context, userID, role string, classID *string, at time.Time) (models.UserPresence, error)
	// MarkOffline flags the user offline at the given time, leaving role and class untouched.
	MarkOffline(ctx context.Context, userID string, at time.Time) (models.UserPresence, error)
	// ListOnline returns online users ordered by role then user id.
	ListOnline(ctx context.Context, filter PresenceFilter) ([]models.UserPresence, error)
}

type presenceRepository struct {
	db *gorm.DB
}

// NewPresenceRepository constructs a presence repository backed by GORM.
func NewPresenceRepository(db *gorm.DB) PresenceRepository {
	return &presenceRepository{db: db}
}

func (r *presenceRepository) MarkOnline(ctx context.Context, userID, role string, classID *string, at time.Time) (models.UserPresence, error) {
	record := models.UserPresence{
		UserID:   userID,
		Role:     role,
		ClassID:  classID,
		IsOnline: true,
		LastSeen: at,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "class_id", "is_online", "last_seen"}),
	}).Create(&record).Error
	if err != nil {
		return models.UserPresence{}, err
	}
	return record, nil
}

// MarkOffline on an unknown user updates nothing and is not an error.
func (r *presenceRepository) MarkOffline(ctx context.Context, userID string, at time.Time) (models.UserPresence, error) {
	err := r.db.WithContext(ctx).
		Model(&models.UserPresence{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{"is_online": false, "last_seen": at}).Error
	if err != nil {
		return models.UserPresence{}, err
	}
	return models.UserPresence{UserID: userID, IsOnline: false, LastSeen: at}, nil
}

func (r *presenceRepository) ListOnline(ctx context.Context, filter PresenceFilter) ([]models.UserPresence, error) {
	query := r.db.WithContext(ctx).Where("is_online = ?", true)
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.ClassID != "" {
		query = query.Where("class_id = ?", filter.ClassID)
	}

	var rows []models.UserPresence
	if err := query.Order("role ASC").Order("user_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MemoryPresenceRepository keeps presence in process memory. It is used when
// no relational store is configured and forgets everything on restart.
type MemoryPresenceRepository struct {
	mu      sync.RWMutex
	records map[string]models.UserPresence
}

// NewMemoryPresenceRepository creates an empty in-memory store.
func NewMemoryPresenceRepository() *MemoryPresenceRepository {
	return &MemoryPresenceRepository{records: make(map[string]models.UserPresence)}
}

func (r *MemoryPresenceRepository) MarkOnline(_ context.Context, userID, role string, classID *string, at time.Time) (models.UserPresence, error) {
	record := models.UserPresence{
		UserID:   userID,
		Role:     role,
		ClassID:  copyString(classID),
		IsOnline: true,
		LastSeen: at,
	}

	r.mu.Lock()
	r.records[userID] = record
	r.mu.Unlock()
	return record, nil
}

// MarkOffline merges onto the previous record, or synthesises a minimal one.
func (r *MemoryPresenceRepository) MarkOffline(_ context.Context, userID string, at time.Time) (models.UserPresence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[userID]
	if !ok {
		record = models.UserPresence{UserID: userID}
	}
	record.IsOnline = false
	record.LastSeen = at
	r.records[userID] = record
	return record, nil
}

func (r *MemoryPresenceRepository) ListOnline(_ context.Context, filter PresenceFilter) ([]models.UserPresence, error) {
	r.mu.RLock()
	rows := make([]models.UserPresence, 0, len(r.records))
	for _, record := range r.records {
		if !record.IsOnline {
			continue
		}
		if filter.Role != "" && record.Role != filter.Role {
			continue
		}
		if filter.ClassID != "" && (record.ClassID == nil || *record.ClassID != filter.ClassID) {
			continue
		}
		record.ClassID = copyString(record.ClassID)
		rows = append(rows, record)
	}
	r.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Role != rows[j].Role {
			return rows[i].Role < rows[j].Role
		}
		return rows[i].UserID < rows[j].UserID
	})
	return rows, nil
}

// Get returns the stored record for a user.
func (r *MemoryPresenceRepository) Get(userID string) (models.UserPresence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record, ok := r.records[userID]
	if ok {
		record.ClassID = copyString(record.ClassID)
	}
	return record, ok
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
