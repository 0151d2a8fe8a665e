package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-realtime/internal/models"
)

type userThreadKey struct {
	userID   string
	threadID string
}

type userMessageKey struct {
	userID    string
	messageID string
}

// MemoryMessagingStore keeps threads and messages in process memory. It backs
// the messaging routes when no relational store is configured and forgets
// everything on restart. Lookups of missing rows return gorm.ErrRecordNotFound
// so callers treat both backends alike.
type MemoryMessagingStore struct {
	mu           sync.RWMutex
	threads      map[string]models.MessageThread
	participants map[string][]models.MessageParticipant
	archives     map[userThreadKey]time.Time
	messages     map[string]models.Message
	flags        map[userMessageKey]time.Time
	attachments  map[string][]models.MessageAttachment
}

// NewMemoryMessagingStore creates an empty in-memory messaging store.
func NewMemoryMessagingStore() *MemoryMessagingStore {
	return &MemoryMessagingStore{
		threads:      make(map[string]models.MessageThread),
		participants: make(map[string][]models.MessageParticipant),
		archives:     make(map[userThreadKey]time.Time),
		messages:     make(map[string]models.Message),
		flags:        make(map[userMessageKey]time.Time),
		attachments:  make(map[string][]models.MessageAttachment),
	}
}

// Threads returns the thread repository view of the store.
func (s *MemoryMessagingStore) Threads() ThreadRepository {
	return &memoryThreadRepository{store: s}
}

// Messages returns the message repository view of the store.
func (s *MemoryMessagingStore) Messages() MessageRepository {
	return &memoryMessageRepository{store: s}
}

// isParticipant expects the caller to hold s.mu.
func (s *MemoryMessagingStore) isParticipant(threadID, userID string) bool {
	for _, p := range s.participants[threadID] {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type memoryThreadRepository struct {
	store *MemoryMessagingStore
}

func (r *memoryThreadRepository) Create(_ context.Context, thread *models.MessageThread, participants []models.MessageParticipant) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.threads[thread.ID]; exists {
		return fmt.Errorf("thread %s already exists", thread.ID)
	}

	members := make([]models.MessageParticipant, 0, len(participants))
	seen := make(map[string]struct{}, len(participants))
	for i := range participants {
		participants[i].ThreadID = thread.ID
		if _, dup := seen[participants[i].UserID]; dup {
			continue
		}
		seen[participants[i].UserID] = struct{}{}
		members = append(members, participants[i])
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })

	s.threads[thread.ID] = cloneThread(*thread)
	s.participants[thread.ID] = members
	return nil
}

func (r *memoryThreadRepository) FindByID(_ context.Context, id string) (models.MessageThread, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	thread, ok := s.threads[id]
	if !ok {
		return models.MessageThread{}, gorm.ErrRecordNotFound
	}
	return cloneThread(thread), nil
}

func (r *memoryThreadRepository) ListForUser(_ context.Context, userID string, includeArchived bool) ([]models.MessageThread, error) {
	s := r.store
	s.mu.RLock()
	threads := make([]models.MessageThread, 0)
	for id, thread := range s.threads {
		if !s.isParticipant(id, userID) {
			continue
		}
		if _, archived := s.archives[userThreadKey{userID: userID, threadID: id}]; archived && !includeArchived {
			continue
		}
		threads = append(threads, cloneThread(thread))
	}
	s.mu.RUnlock()

	sort.Slice(threads, func(i, j int) bool {
		if !threads[i].LastMessageAt.Equal(threads[j].LastMessageAt) {
			return threads[i].LastMessageAt.After(threads[j].LastMessageAt)
		}
		return threads[i].ID < threads[j].ID
	})
	return threads, nil
}

func (r *memoryThreadRepository) Participants(_ context.Context, threadID string) ([]models.MessageParticipant, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.participants[threadID]
	out := make([]models.MessageParticipant, len(members))
	copy(out, members)
	return out, nil
}

func (r *memoryThreadRepository) IsParticipant(_ context.Context, threadID, userID string) (bool, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isParticipant(threadID, userID), nil
}

func (r *memoryThreadRepository) OtherParticipants(_ context.Context, threadID, excludeUserID string) ([]string, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	userIDs := make([]string, 0)
	for _, p := range s.participants[threadID] {
		if p.UserID != excludeUserID {
			userIDs = append(userIDs, p.UserID)
		}
	}
	return userIDs, nil
}

func (r *memoryThreadRepository) Touch(_ context.Context, threadID string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if thread, ok := s.threads[threadID]; ok {
		thread.LastMessageAt = at
		s.threads[threadID] = thread
	}
	return nil
}

func (r *memoryThreadRepository) Archive(_ context.Context, userID, threadID string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	s.archives[userThreadKey{userID: userID, threadID: threadID}] = at
	s.mu.Unlock()
	return nil
}

func (r *memoryThreadRepository) Unarchive(_ context.Context, userID, threadID string) error {
	s := r.store
	s.mu.Lock()
	delete(s.archives, userThreadKey{userID: userID, threadID: threadID})
	s.mu.Unlock()
	return nil
}

type memoryMessageRepository struct {
	store *MemoryMessagingStore
}

func (r *memoryMessageRepository) Create(_ context.Context, message *models.Message) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[message.ID]; exists {
		return fmt.Errorf("message %s already exists", message.ID)
	}
	s.messages[message.ID] = cloneMessage(*message)
	return nil
}

func (r *memoryMessageRepository) FindByID(_ context.Context, id string) (models.Message, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	message, ok := s.messages[id]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return cloneMessage(message), nil
}

func (r *memoryMessageRepository) ListByThread(_ context.Context, threadID string) ([]models.Message, error) {
	messages := r.collect(func(m models.Message) bool { return m.ThreadID == threadID })
	sortMessages(messages, false)
	return messages, nil
}

func (r *memoryMessageRepository) ListInbox(_ context.Context, userID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}
	messages := r.collect(func(m models.Message) bool { return m.ToUserID == userID })
	sortMessages(messages, true)
	return truncateMessages(messages, limit), nil
}

func (r *memoryMessageRepository) Search(_ context.Context, userID, query string, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > maxSearchResults {
		limit = maxSearchResults
	}
	needle := strings.ToLower(strings.TrimSpace(query))

	s := r.store
	s.mu.RLock()
	messages := make([]models.Message, 0)
	for _, m := range s.messages {
		if !s.isParticipant(m.ThreadID, userID) {
			continue
		}
		subject := ""
		if m.Subject != nil {
			subject = *m.Subject
		}
		if strings.Contains(strings.ToLower(subject), needle) || strings.Contains(strings.ToLower(m.Content), needle) {
			messages = append(messages, cloneMessage(m))
		}
	}
	s.mu.RUnlock()

	sortMessages(messages, true)
	return truncateMessages(messages, limit), nil
}

func (r *memoryMessageRepository) MarkDelivered(_ context.Context, id string, at time.Time) (string, bool, error) {
	return r.markOnce(id, at, func(m *models.Message) **time.Time { return &m.DeliveredAt })
}

func (r *memoryMessageRepository) MarkRead(_ context.Context, id string, at time.Time) (string, bool, error) {
	return r.markOnce(id, at, func(m *models.Message) **time.Time { return &m.ReadAt })
}

// markOnce sets the selected timestamp only while it is nil, under the store
// lock, so concurrent callers see exactly one transition.
func (r *memoryMessageRepository) markOnce(id string, at time.Time, field func(*models.Message) **time.Time) (string, bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.messages[id]
	if !ok {
		return "", false, nil
	}
	target := field(&message)
	if *target != nil {
		return "", false, nil
	}
	stamp := at
	*target = &stamp
	s.messages[id] = message
	return message.FromUserID, true, nil
}

func (r *memoryMessageRepository) Flag(_ context.Context, userID, messageID string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	s.flags[userMessageKey{userID: userID, messageID: messageID}] = at
	s.mu.Unlock()
	return nil
}

func (r *memoryMessageRepository) Unflag(_ context.Context, userID, messageID string) error {
	s := r.store
	s.mu.Lock()
	delete(s.flags, userMessageKey{userID: userID, messageID: messageID})
	s.mu.Unlock()
	return nil
}

func (r *memoryMessageRepository) CreateAttachment(_ context.Context, attachment *models.MessageAttachment) error {
	s := r.store
	s.mu.Lock()
	s.attachments[attachment.MessageID] = append(s.attachments[attachment.MessageID], *attachment)
	s.mu.Unlock()
	return nil
}

func (r *memoryMessageRepository) ListAttachments(_ context.Context, messageID string) ([]models.MessageAttachment, error) {
	s := r.store
	s.mu.RLock()
	out := make([]models.MessageAttachment, len(s.attachments[messageID]))
	copy(out, s.attachments[messageID])
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (r *memoryMessageRepository) collect(keep func(models.Message) bool) []models.Message {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]models.Message, 0)
	for _, m := range s.messages {
		if keep(m) {
			messages = append(messages, cloneMessage(m))
		}
	}
	return messages
}

// sortMessages orders by creation time, breaking ties on id so results are stable.
func sortMessages(messages []models.Message, newestFirst bool) {
	sort.Slice(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if newestFirst {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func truncateMessages(messages []models.Message, limit int) []models.Message {
	if len(messages) > limit {
		return messages[:limit]
	}
	return messages
}

func cloneThread(thread models.MessageThread) models.MessageThread {
	thread.Subject = copyString(thread.Subject)
	return thread
}

func cloneMessage(message models.Message) models.Message {
	message.Subject = copyString(message.Subject)
	message.DeliveredAt = copyTime(message.DeliveredAt)
	message.ReadAt = copyTime(message.ReadAt)
	return message
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
