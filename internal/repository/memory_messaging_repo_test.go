package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-realtime/internal/models"
)

type messagingBackend struct {
	threads  ThreadRepository
	messages MessageRepository
}

func messagingBackends(t *testing.T) map[string]messagingBackend {
	t.Helper()
	db := setupMessagingTestDB(t)
	memory := NewMemoryMessagingStore()
	return map[string]messagingBackend{
		"gorm":   {threads: NewThreadRepository(db), messages: NewMessageRepository(db)},
		"memory": {threads: memory.Threads(), messages: memory.Messages()},
	}
}

func (b messagingBackend) seed(t *testing.T, threadID string, at time.Time, userIDs ...string) {
	t.Helper()
	participants := make([]models.MessageParticipant, 0, len(userIDs))
	for _, userID := range userIDs {
		participants = append(participants, models.MessageParticipant{UserID: userID, Role: "student"})
	}
	thread := models.MessageThread{ID: threadID, Subject: strPtr("Subject " + threadID), LastMessageAt: at}
	require.NoError(t, b.threads.Create(context.Background(), &thread, participants))
}

func (b messagingBackend) send(t *testing.T, id, threadID, from, to, content string, at time.Time) {
	t.Helper()
	message := models.Message{
		ID:         id,
		ThreadID:   threadID,
		FromUserID: from,
		FromRole:   "teacher",
		ToUserID:   to,
		ToRole:     "student",
		Content:    content,
		CreatedAt:  at,
	}
	require.NoError(t, b.messages.Create(context.Background(), &message))
}

func TestMessagingBackendsThreadsAndParticipants(t *testing.T) {
	for name, backend := range messagingBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			backend.seed(t, "old", now.Add(-time.Hour), "A", "B")
			backend.seed(t, "new", now, "A", "C", "A")
			backend.seed(t, "other", now, "B", "C")

			threads, err := backend.threads.ListForUser(ctx, "A", false)
			require.NoError(t, err)
			require.Equal(t, []string{"new", "old"}, threadIDs(threads))

			require.NoError(t, backend.threads.Archive(ctx, "A", "new", now))
			threads, err = backend.threads.ListForUser(ctx, "A", false)
			require.NoError(t, err)
			require.Equal(t, []string{"old"}, threadIDs(threads))
			threads, err = backend.threads.ListForUser(ctx, "A", true)
			require.NoError(t, err)
			require.Len(t, threads, 2)
			require.NoError(t, backend.threads.Unarchive(ctx, "A", "new"))

			require.NoError(t, backend.threads.Touch(ctx, "old", now.Add(time.Minute)))
			threads, err = backend.threads.ListForUser(ctx, "A", false)
			require.NoError(t, err)
			require.Equal(t, []string{"old", "new"}, threadIDs(threads))

			participants, err := backend.threads.Participants(ctx, "new")
			require.NoError(t, err)
			require.Len(t, participants, 2)

			others, err := backend.threads.OtherParticipants(ctx, "new", "A")
			require.NoError(t, err)
			require.Equal(t, []string{"C"}, others)

			member, err := backend.threads.IsParticipant(ctx, "other", "A")
			require.NoError(t, err)
			require.False(t, member)

			thread, err := backend.threads.FindByID(ctx, "new")
			require.NoError(t, err)
			require.Equal(t, "Subject new", *thread.Subject)

			_, err = backend.threads.FindByID(ctx, "missing")
			require.ErrorIs(t, err, gorm.ErrRecordNotFound)
		})
	}
}

func TestMessagingBackendsInboxSearchAndMarks(t *testing.T) {
	for name, backend := range messagingBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			backend.seed(t, "mine", now, "A", "B")
			backend.seed(t, "theirs", now, "B", "C")
			backend.send(t, "m1", "mine", "B", "A", "Homework due FRIDAY", now)
			backend.send(t, "m2", "mine", "A", "B", "see you", now.Add(time.Second))
			backend.send(t, "m3", "theirs", "B", "C", "friday plans", now)
			backend.send(t, "m4", "mine", "B", "A", "Tom & Jerry", now.Add(2*time.Second))

			inbox, err := backend.messages.ListInbox(ctx, "A", 0)
			require.NoError(t, err)
			require.Equal(t, []string{"m4", "m1"}, messageIDs(inbox))

			inThread, err := backend.messages.ListByThread(ctx, "mine")
			require.NoError(t, err)
			require.Equal(t, []string{"m1", "m2", "m4"}, messageIDs(inThread))

			found, err := backend.messages.Search(ctx, "A", "friday", 0)
			require.NoError(t, err)
			require.Equal(t, []string{"m1"}, messageIDs(found))

			found, err = backend.messages.Search(ctx, "A", "tom & jerry", 0)
			require.NoError(t, err)
			require.Equal(t, []string{"m4"}, messageIDs(found))

			sender, updated, err := backend.messages.MarkDelivered(ctx, "m1", now)
			require.NoError(t, err)
			require.True(t, updated)
			require.Equal(t, "B", sender)

			_, updated, err = backend.messages.MarkDelivered(ctx, "m1", now.Add(time.Hour))
			require.NoError(t, err)
			require.False(t, updated)

			_, updated, err = backend.messages.MarkRead(ctx, "missing", now)
			require.NoError(t, err)
			require.False(t, updated)

			stored, err := backend.messages.FindByID(ctx, "m1")
			require.NoError(t, err)
			require.NotNil(t, stored.DeliveredAt)
			require.Nil(t, stored.ReadAt)

			_, err = backend.messages.FindByID(ctx, "missing")
			require.ErrorIs(t, err, gorm.ErrRecordNotFound)

			require.NoError(t, backend.messages.Flag(ctx, "A", "m1", now))
			require.NoError(t, backend.messages.Flag(ctx, "A", "m1", now.Add(time.Second)))
			require.NoError(t, backend.messages.Unflag(ctx, "A", "m1"))

			attachment := models.MessageAttachment{ID: "a1", MessageID: "m1", Filename: "notes.pdf", Mime: "application/pdf", SizeBytes: 42, Path: "/tmp/notes.pdf", UploadedAt: now}
			require.NoError(t, backend.messages.CreateAttachment(ctx, &attachment))
			attachments, err := backend.messages.ListAttachments(ctx, "m1")
			require.NoError(t, err)
			require.Len(t, attachments, 1)
			require.Equal(t, "notes.pdf", attachments[0].Filename)
		})
	}
}

func TestMemoryMessagingStoreConcurrentAcksTransitionOnce(t *testing.T) {
	store := NewMemoryMessagingStore()
	backend := messagingBackend{threads: store.Threads(), messages: store.Messages()}
	now := time.Now().UTC()
	backend.seed(t, "th-1", now, "A", "B")
	backend.send(t, "M1", "th-1", "B", "A", "hello", now)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, updated, err := backend.messages.MarkDelivered(context.Background(), "M1", time.Now().UTC())
			if err == nil && updated {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
}

func TestMemoryMessagingStoreReturnsCopies(t *testing.T) {
	store := NewMemoryMessagingStore()
	backend := messagingBackend{threads: store.Threads(), messages: store.Messages()}
	ctx := context.Background()
	now := time.Now().UTC()
	backend.seed(t, "th-1", now, "A", "B")
	backend.send(t, "M1", "th-1", "B", "A", "hello", now)

	_, _, err := backend.messages.MarkRead(ctx, "M1", now)
	require.NoError(t, err)
	first, err := backend.messages.FindByID(ctx, "M1")
	require.NoError(t, err)
	*first.ReadAt = now.Add(time.Hour)

	second, err := backend.messages.FindByID(ctx, "M1")
	require.NoError(t, err)
	require.Equal(t, now, *second.ReadAt)

	thread, err := backend.threads.FindByID(ctx, "th-1")
	require.NoError(t, err)
	*thread.Subject = "changed"
	again, err := backend.threads.FindByID(ctx, "th-1")
	require.NoError(t, err)
	require.Equal(t, "Subject th-1", *again.Subject)

	duplicate := models.Message{ID: "M1", ThreadID: "th-1"}
	require.Error(t, backend.messages.Create(ctx, &duplicate))
}

func messageIDs(messages []models.Message) []string {
	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	return ids
}
