package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-realtime/internal/dto"
	"github.com/noah-isme/gema-realtime/internal/models"
	"github.com/noah-isme/gema-realtime/internal/realtime"
	"github.com/noah-isme/gema-realtime/internal/repository"
)

const (
	defaultThreadSubject = "Conversation"
	searchResultLimit    = 200
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)

// Actor is the authenticated caller of a messaging operation.
type Actor struct {
	ID   string
	Role string
}

// CanCreateThreads reports whether the actor may start multi-party threads.
func (a Actor) CanCreateThreads() bool {
	switch strings.ToLower(a.Role) {
	case "teacher", "admin":
		return true
	default:
		return false
	}
}

// MessageService implements threads, messages, flags, archives and
// attachments, and serves the realtime layer's delivery and typing lookups.
type MessageService interface {
	ListThreads(ctx context.Context, actor Actor, includeArchived bool) ([]dto.ThreadResponse, error)
	GetThread(ctx context.Context, actor Actor, threadID string) (dto.ThreadDetailResponse, error)
	CreateThread(ctx context.Context, actor Actor, req dto.ThreadCreateRequest) (dto.ThreadCreatedResponse, error)
	Inbox(ctx context.Context, actor Actor) ([]dto.MessageResponse, error)
	Send(ctx context.Context, actor Actor, req dto.MessageSendRequest) ([]dto.MessageResponse, error)
	MarkRead(ctx context.Context, actor Actor, messageID string) error
	Search(ctx context.Context, actor Actor, query string) ([]dto.MessageResponse, error)
	Flag(ctx context.Context, actor Actor, req dto.FlagRequest) error
	Unflag(ctx context.Context, actor Actor, req dto.FlagRequest) error
	Archive(ctx context.Context, actor Actor, req dto.ArchiveRequest) error
	Unarchive(ctx context.Context, actor Actor, req dto.ArchiveRequest) error
	Attach(ctx context.Context, actor Actor, req dto.AttachRequest) ([]dto.AttachmentResponse, error)

	MarkDelivered(ctx context.Context, messageID string) (senderID string, delivered bool, err error)
	OtherParticipants(ctx context.Context, threadID, excludeUserID string) ([]string, error)
}

// MessageServiceConfig wires a message service.
type MessageServiceConfig struct {
	Threads            repository.ThreadRepository
	Messages           repository.MessageRepository
	Audit              repository.AuditRepository
	Broadcaster        Broadcaster
	Storage            FileStorage
	Cipher             *ContentCipher
	MaxAttachmentBytes int64
	Validator          *validator.Validate
	Logger             zerolog.Logger
}

type messageService struct {
	threads     repository.ThreadRepository
	messages    repository.MessageRepository
	audit       repository.AuditRepository
	broadcaster Broadcaster
	storage     FileStorage
	cipher      *ContentCipher
	maxBytes    int64
	validator   *validator.Validate
	textOnly    *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// NewMessageService constructs the messaging service.
func NewMessageService(cfg MessageServiceConfig) MessageService {
	maxBytes := cfg.MaxAttachmentBytes
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024
	}
	return &messageService{
		threads:     cfg.Threads,
		messages:    cfg.Messages,
		audit:       cfg.Audit,
		broadcaster: cfg.Broadcaster,
		storage:     cfg.Storage,
		cipher:      cfg.Cipher,
		maxBytes:    maxBytes,
		validator:   cfg.Validator,
		textOnly:    bluemonday.StrictPolicy(),
		logger:      cfg.Logger.With().Str("component", "message_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-realtime/internal/service/messages"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *messageService) ListThreads(ctx context.Context, actor Actor, includeArchived bool) ([]dto.ThreadResponse, error) {
	threads, err := s.threads.ListForUser(ctx, actor.ID, includeArchived)
	if err != nil {
		return nil, err
	}
	return dto.NewThreadResponseSlice(threads), nil
}

func (s *messageService) GetThread(ctx context.Context, actor Actor, threadID string) (dto.ThreadDetailResponse, error) {
	thread, err := s.requireThreadAccess(ctx, actor, threadID)
	if err != nil {
		return dto.ThreadDetailResponse{}, err
	}

	participants, err := s.threads.Participants(ctx, threadID)
	if err != nil {
		return dto.ThreadDetailResponse{}, err
	}
	messages, err := s.messages.ListByThread(ctx, threadID)
	if err != nil {
		return dto.ThreadDetailResponse{}, err
	}

	return dto.ThreadDetailResponse{
		Thread:       dto.NewThreadResponse(thread),
		Participants: dto.NewParticipantResponseSlice(participants),
		Messages:     s.toResponses(messages),
	}, nil
}

func (s *messageService) CreateThread(ctx context.Context, actor Actor, req dto.ThreadCreateRequest) (dto.ThreadCreatedResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ThreadCreatedResponse{}, err
	}
	if !actor.CanCreateThreads() {
		return dto.ThreadCreatedResponse{}, ErrForbidden
	}

	participants := make([]models.MessageParticipant, 0, len(req.Participants))
	for _, p := range req.Participants {
		participants = append(participants, models.MessageParticipant{
			UserID: strings.TrimSpace(p.ID),
			Role:   strings.TrimSpace(p.Role),
		})
	}

	thread, err := s.createThread(ctx, req.Subject, participants)
	if err != nil {
		return dto.ThreadCreatedResponse{}, err
	}

	s.recordAudit(ctx, actor, "thread:create", nil, &thread.ID, datatypes.JSONMap{"count": len(req.Participants)})
	return dto.ThreadCreatedResponse{ID: thread.ID}, nil
}

func (s *messageService) Inbox(ctx context.Context, actor Actor) ([]dto.MessageResponse, error) {
	messages, err := s.messages.ListInbox(ctx, actor.ID, 0)
	if err != nil {
		return nil, err
	}
	return s.toResponses(messages), nil
}

// Send stores one message per other participant and pushes each to its
// recipient's user room. Without a thread id a two-party thread is started.
func (s *messageService) Send(ctx context.Context, actor Actor, req dto.MessageSendRequest) ([]dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	content := strings.TrimSpace(req.Content)
	if !s.hasVisibleText(content) {
		return nil, ErrEmptyContent
	}

	ctx, span := s.tracer.Start(ctx, "messages.send", trace.WithAttributes(
		attribute.String("messages.sender_id", actor.ID),
		attribute.Bool("messages.sensitive", req.Sensitive),
	))
	defer span.End()

	threadID := strings.TrimSpace(req.ThreadID)
	if threadID == "" {
		thread, err := s.createThread(ctx, req.Subject, []models.MessageParticipant{
			{UserID: actor.ID, Role: actor.Role},
			{UserID: strings.TrimSpace(req.ToID), Role: strings.TrimSpace(req.ToRole)},
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "thread create failed")
			return nil, err
		}
		threadID = thread.ID
	} else if _, err := s.requireThreadAccess(ctx, actor, threadID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "thread access denied")
		return nil, err
	}
	span.SetAttributes(attribute.String("messages.thread_id", threadID))

	participants, err := s.threads.Participants(ctx, threadID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	stored, err := s.cipher.Seal(content, req.Sensitive)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var subject *string
	if trimmed := strings.TrimSpace(req.Subject); trimmed != "" {
		subject = &trimmed
	}

	now := s.now()
	created := make([]dto.MessageResponse, 0, len(participants))
	for _, p := range participants {
		if p.UserID == actor.ID {
			continue
		}
		message := models.Message{
			ID:         uuid.NewString(),
			ThreadID:   threadID,
			FromUserID: actor.ID,
			FromRole:   actor.Role,
			ToUserID:   p.UserID,
			ToRole:     p.Role,
			Subject:    subject,
			Content:    stored,
			CreatedAt:  now,
		}
		if err := s.messages.Create(ctx, &message); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "persist failed")
			return nil, err
		}

		response := dto.NewMessageResponse(message, content)
		created = append(created, response)
		s.broadcaster.BroadcastToRoom(ctx, realtime.UserRoom(p.UserID), realtime.MessageCreated{
			ThreadID: threadID,
			Message:  response,
		})
		s.recordAudit(ctx, actor, "send", &message.ID, &threadID, datatypes.JSONMap{"sensitive": req.Sensitive})
	}

	if err := s.threads.Touch(ctx, threadID, now); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("messages.recipients", len(created)))
	span.SetStatus(codes.Ok, "sent")
	return created, nil
}

// MarkRead sets read-at for the recipient and tells the sender. Repeated
// calls are accepted but only the first one notifies.
func (s *messageService) MarkRead(ctx context.Context, actor Actor, messageID string) error {
	ctx, span := s.tracer.Start(ctx, "messages.read", trace.WithAttributes(attribute.String("messages.id", messageID)))
	defer span.End()

	message, err := s.findMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if message.ToUserID != actor.ID {
		return ErrForbidden
	}

	senderID, updated, err := s.messages.MarkRead(ctx, messageID, s.now())
	if err != nil {
		span.RecordError(err)
		return err
	}
	if updated {
		s.broadcaster.BroadcastToRoom(ctx, realtime.UserRoom(senderID), realtime.Read(messageID))
	}
	return nil
}

func (s *messageService) Search(ctx context.Context, actor Actor, query string) ([]dto.MessageResponse, error) {
	messages, err := s.messages.Search(ctx, actor.ID, query, searchResultLimit)
	if err != nil {
		return nil, err
	}
	return s.toResponses(messages), nil
}

func (s *messageService) Flag(ctx context.Context, actor Actor, req dto.FlagRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	if err := s.requireMessageVisible(ctx, actor, req.MessageID); err != nil {
		return err
	}
	return s.messages.Flag(ctx, actor.ID, req.MessageID, s.now())
}

func (s *messageService) Unflag(ctx context.Context, actor Actor, req dto.FlagRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	return s.messages.Unflag(ctx, actor.ID, req.MessageID)
}

func (s *messageService) Archive(ctx context.Context, actor Actor, req dto.ArchiveRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	if _, err := s.requireThreadAccess(ctx, actor, req.ThreadID); err != nil {
		return err
	}
	return s.threads.Archive(ctx, actor.ID, req.ThreadID, s.now())
}

func (s *messageService) Unarchive(ctx context.Context, actor Actor, req dto.ArchiveRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	return s.threads.Unarchive(ctx, actor.ID, req.ThreadID)
}

// Attach stores each file and records an attachment row. The recorded MIME
// type is the sniffed one; the client supplied type is only logged on mismatch.
func (s *messageService) Attach(ctx context.Context, actor Actor, req dto.AttachRequest) ([]dto.AttachmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "messages.attach", trace.WithAttributes(
		attribute.String("messages.id", req.MessageID),
		attribute.Int("messages.files", len(req.Files)),
		attribute.Int64("messages.max_bytes", s.maxBytes),
	))
	defer span.End()

	message, err := s.findMessage(ctx, req.MessageID)
	if err != nil {
		return nil, err
	}
	if message.FromUserID != actor.ID && message.ToUserID != actor.ID {
		return nil, ErrForbidden
	}

	// Decode everything first so an oversized file rejects the whole batch.
	payloads := make([][]byte, 0, len(req.Files))
	for _, file := range req.Files {
		payload, err := base64.StdEncoding.DecodeString(file.Base64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAttachment, file.Name)
		}
		if int64(len(payload)) > s.maxBytes {
			span.SetStatus(codes.Error, "payload too large")
			return nil, ErrAttachmentTooLarge
		}
		payloads = append(payloads, payload)
	}

	saved := make([]dto.AttachmentResponse, 0, len(req.Files))
	for i, file := range req.Files {
		payload := payloads[i]
		detected := normalizeMime(mimetype.Detect(payload).String())
		if declared := normalizeMime(file.Mime); declared != "" && declared != detected {
			s.logger.Debug().Str("declared", declared).Str("detected", detected).Str("file", file.Name).Msg("attachment mime mismatch")
		}

		filename := attachmentFilename(req.MessageID, s.now(), file.Name)
		location, err := s.storage.Upload(ctx, filename, bytes.NewReader(payload))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "storage failed")
			return nil, err
		}

		record := models.MessageAttachment{
			ID:         uuid.NewString(),
			MessageID:  req.MessageID,
			Filename:   filename,
			Mime:       detected,
			SizeBytes:  len(payload),
			Path:       location,
			UploadedAt: s.now(),
		}
		if err := s.messages.CreateAttachment(ctx, &record); err != nil {
			span.RecordError(err)
			return nil, err
		}

		url := ""
		if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
			url = location
		}
		saved = append(saved, dto.NewAttachmentResponse(record, url))
	}

	span.SetStatus(codes.Ok, "stored")
	return saved, nil
}

// MarkDelivered serves the realtime acknowledgement handler.
func (s *messageService) MarkDelivered(ctx context.Context, messageID string) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "messages.ack", trace.WithAttributes(attribute.String("messages.id", messageID)))
	defer span.End()

	senderID, updated, err := s.messages.MarkDelivered(ctx, messageID, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark delivered failed")
		return "", false, err
	}
	span.SetAttributes(attribute.Bool("messages.delivered", updated))
	return senderID, updated, nil
}

// OtherParticipants serves the realtime typing handler.
func (s *messageService) OtherParticipants(ctx context.Context, threadID, excludeUserID string) ([]string, error) {
	return s.threads.OtherParticipants(ctx, threadID, excludeUserID)
}

func (s *messageService) createThread(ctx context.Context, subject string, participants []models.MessageParticipant) (models.MessageThread, error) {
	title := strings.TrimSpace(subject)
	if title == "" {
		title = defaultThreadSubject
	}
	thread := models.MessageThread{
		ID:            uuid.NewString(),
		Subject:       &title,
		LastMessageAt: s.now(),
	}
	if err := s.threads.Create(ctx, &thread, participants); err != nil {
		return models.MessageThread{}, err
	}
	return thread, nil
}

func (s *messageService) requireThreadAccess(ctx context.Context, actor Actor, threadID string) (models.MessageThread, error) {
	thread, err := s.threads.FindByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.MessageThread{}, ErrThreadNotFound
		}
		return models.MessageThread{}, err
	}
	member, err := s.threads.IsParticipant(ctx, threadID, actor.ID)
	if err != nil {
		return models.MessageThread{}, err
	}
	if !member {
		return models.MessageThread{}, ErrForbidden
	}
	return thread, nil
}

func (s *messageService) requireMessageVisible(ctx context.Context, actor Actor, messageID string) error {
	message, err := s.findMessage(ctx, messageID)
	if err != nil {
		return err
	}
	member, err := s.threads.IsParticipant(ctx, message.ThreadID, actor.ID)
	if err != nil {
		return err
	}
	if !member {
		return ErrForbidden
	}
	return nil
}

func (s *messageService) findMessage(ctx context.Context, messageID string) (models.Message, error) {
	message, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Message{}, ErrMessageNotFound
		}
		return models.Message{}, err
	}
	return message, nil
}

// hasVisibleText reports whether content still reads as something once markup
// is stripped. Content itself is stored as sent; clients escape it on render.
func (s *messageService) hasVisibleText(content string) bool {
	if content == "" {
		return false
	}
	return strings.TrimSpace(html.UnescapeString(s.textOnly.Sanitize(content))) != ""
}

func (s *messageService) toResponses(messages []models.Message) []dto.MessageResponse {
	out := make([]dto.MessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, dto.NewMessageResponse(message, s.cipher.Open(message.Content)))
	}
	return out
}

// recordAudit never fails the surrounding operation.
func (s *messageService) recordAudit(ctx context.Context, actor Actor, action string, messageID, threadID *string, metadata datatypes.JSONMap) {
	if s.audit == nil {
		return
	}
	entry := models.MessageAudit{
		ID:          uuid.NewString(),
		ActorUserID: actor.ID,
		Action:      action,
		MessageID:   messageID,
		ThreadID:    threadID,
		Metadata:    metadata,
		CreatedAt:   s.now(),
	}
	if err := s.audit.Record(ctx, &entry); err != nil {
		s.logger.Warn().Err(err).Str("action", action).Msg("failed to record message audit")
	}
}

func attachmentFilename(messageID string, at time.Time, name string) string {
	raw := fmt.Sprintf("%s_%d_%s", messageID, at.UnixMilli(), name)
	return unsafeFilenameChars.ReplaceAllString(raw, "_")
}

func normalizeMime(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}
