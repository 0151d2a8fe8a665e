package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/observability"
)

const welcomeMessage = "Connected to real-time updates"

// DeliveryTracker records message acknowledgements.
type DeliveryTracker interface {
	// MarkDelivered sets delivered-at if it is still unset and returns the sender.
	// delivered is false when nothing changed: already delivered or unknown message.
	MarkDelivered(ctx context.Context, messageID string) (senderID string, delivered bool, err error)
}

// ParticipantDirectory resolves who takes part in a thread.
type ParticipantDirectory interface {
	OtherParticipants(ctx context.Context, threadID, excludeUserID string) ([]string, error)
}

// PresenceTracker applies presence transitions and announces them.
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID, role, classID string) error
	SetOffline(ctx context.Context, userID string) error
}

// DispatcherConfig wires the dispatcher's collaborators. Deliveries and
// Participants are nil when no relational store is configured (dev mode), in
// which case acknowledgement and typing events are accepted and ignored.
type DispatcherConfig struct {
	Hub          *Hub
	Presence     PresenceTracker
	Deliveries   DeliveryTracker
	Participants ParticipantDirectory
	DevTriggers  bool
	Validator    *validator.Validate
	Logger       zerolog.Logger
}

// Handshake is what a client announced when it opened its connection.
type Handshake struct {
	Role string
}

// Dispatcher routes inbound events to their handlers. A failing handler is
// logged and discarded; it never closes the connection.
type Dispatcher struct {
	hub          *Hub
	presence     PresenceTracker
	deliveries   DeliveryTracker
	participants ParticipantDirectory
	devTriggers  bool
	validator    *validator.Validate
	logger       zerolog.Logger
	now          func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	validate := cfg.Validator
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Dispatcher{
		hub:          cfg.Hub,
		presence:     cfg.Presence,
		deliveries:   cfg.Deliveries,
		participants: cfg.Participants,
		devTriggers:  cfg.DevTriggers,
		validator:    validate,
		logger:       cfg.Logger.With().Str("component", "realtime_dispatcher").Logger(),
		now:          time.Now,
	}
}

// Hub returns the hub the dispatcher broadcasts through.
func (d *Dispatcher) Hub() *Hub { return d.hub }

// Connect registers a new connection and greets it. Teachers and parents are
// placed in their forum; any other connection starts without rooms.
func (d *Dispatcher) Connect(conn Conn, hs Handshake) {
	d.hub.Register(conn)
	d.logger.Info().Str("connection_id", conn.ID()).Str("transport", conn.Transport()).Msg("client connected")
	if forum, ok := ForumForRole(hs.Role); ok {
		if err := d.join(conn, forum); err != nil {
			d.logger.Warn().Err(err).Str("connection_id", conn.ID()).Msg("forum auto join failed")
		}
	}
	d.hub.SendTo(conn, Notification{
		Type:      "system",
		Message:   welcomeMessage,
		Timestamp: d.now().UTC(),
	})
}

// Disconnect unregisters a connection; its room memberships go with it.
func (d *Dispatcher) Disconnect(conn Conn) {
	d.hub.Unregister(conn)
	d.logger.Info().Str("connection_id", conn.ID()).Msg("client disconnected")
}

// Handle decodes one raw frame and runs the matching handler under supervision.
func (d *Dispatcher) Handle(ctx context.Context, conn Conn, raw []byte) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		d.logger.Warn().Err(err).Str("connection_id", conn.ID()).Msg("discarding malformed frame")
		return
	}
	d.supervise(ctx, conn, env.Event, func(ctx context.Context) error {
		evt, err := ParseInbound(env)
		if err != nil {
			return err
		}
		return d.dispatch(ctx, conn, evt)
	})
}

// supervise is the single place where handler failures and panics are absorbed.
func (d *Dispatcher) supervise(ctx context.Context, conn Conn, event string, fn func(context.Context) error) {
	observability.RealtimeEvents().WithLabelValues(metricLabel(event)).Inc()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return fn(ctx)
	}()
	if err == nil {
		return
	}

	observability.RealtimeFailures().WithLabelValues(metricLabel(event)).Inc()
	entry := d.logger.Warn()
	if event == EventTypingStart || event == EventTypingStop {
		entry = d.logger.Debug()
	}
	entry.Err(err).Str("event", event).Str("connection_id", conn.ID()).Msg("realtime handler failed")
}

func (d *Dispatcher) dispatch(ctx context.Context, conn Conn, evt InboundEvent) error {
	if err := d.validator.Struct(evt); err != nil {
		return fmt.Errorf("invalid %s payload: %w", evt.EventName(), err)
	}

	switch e := evt.(type) {
	case JoinStudent:
		return d.join(conn, StudentRoom(e.StudentID.String()))
	case JoinUser:
		return d.join(conn, UserRoom(e.UserID.String()))
	case JoinTeacher:
		return d.join(conn, TeacherRoom(e.TeacherID.String()))
	case JoinForum:
		return d.join(conn, ForumRoom(e.Forum))
	case LeaveForum:
		d.hub.Leave(conn, ForumRoom(e.Forum))
		d.logger.Info().Str("connection_id", conn.ID()).Str("room", ForumRoom(e.Forum).String()).Msg("left room")
		return nil
	case SendForumMessage:
		return d.handleForumMessage(ctx, conn, e)
	case MessageAck:
		return d.handleAck(ctx, e)
	case TypingChange:
		return d.handleTyping(ctx, e)
	case PresenceOnline:
		return d.presence.SetOnline(ctx, e.UserID.String(), e.Role, e.ClassID.String())
	case PresenceOffline:
		return d.presence.SetOffline(ctx, e.UserID.String())
	case DevAssignmentsUpdate, DevAttendanceUpdate, DevTimetableUpdate:
		return d.handleDevTrigger(ctx, e)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, evt.EventName())
	}
}

func (d *Dispatcher) join(conn Conn, room Room) error {
	if !d.hub.Join(conn, room) {
		return errors.New("connection is not registered")
	}
	d.logger.Info().Str("connection_id", conn.ID()).Str("room", room.String()).Msg("joined room")
	return nil
}

// handleForumMessage posts to the forum whether or not the sender joined it.
func (d *Dispatcher) handleForumMessage(ctx context.Context, conn Conn, evt SendForumMessage) error {
	post, err := NewForumMessage(evt.Message, d.now())
	if err != nil {
		return err
	}
	d.hub.BroadcastToRoomExcept(ctx, ForumRoom(evt.ForumName), post, conn)
	return nil
}

func (d *Dispatcher) handleAck(ctx context.Context, evt MessageAck) error {
	if d.deliveries == nil {
		return nil
	}
	senderID, delivered, err := d.deliveries.MarkDelivered(ctx, evt.MessageID.String())
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if !delivered {
		return nil
	}
	d.hub.BroadcastToRoom(ctx, UserRoom(senderID), Delivered(evt.MessageID.String()))
	return nil
}

func (d *Dispatcher) handleTyping(ctx context.Context, evt TypingChange) error {
	if d.participants == nil {
		return nil
	}
	recipients, err := d.participants.OtherParticipants(ctx, evt.ThreadID.String(), evt.UserID.String())
	if err != nil {
		return fmt.Errorf("lookup participants: %w", err)
	}
	notice := Typing{ThreadID: evt.ThreadID.String(), UserID: evt.UserID.String(), Typing: evt.Typing}
	for _, userID := range recipients {
		if userID == notice.UserID {
			continue
		}
		d.hub.BroadcastToRoom(ctx, UserRoom(userID), notice)
	}
	return nil
}

func (d *Dispatcher) handleDevTrigger(ctx context.Context, evt InboundEvent) error {
	if !d.devTriggers {
		return fmt.Errorf("%s is only available in dev mode", evt.EventName())
	}
	switch e := evt.(type) {
	case DevAssignmentsUpdate:
		d.hub.BroadcastToRoom(ctx, TeacherRoom(e.TeacherID.String()), AssignmentsUpdate{PendingAssignments: e.Pending})
	case DevAttendanceUpdate:
		d.hub.BroadcastToRoom(ctx, TeacherRoom(e.TeacherID.String()), AttendanceUpdate{TotalStudents: e.Total})
	case DevTimetableUpdate:
		d.hub.BroadcastToRoom(ctx, TeacherRoom(e.TeacherID.String()), TimetableUpdate{Today: e.Today})
	}
	return nil
}

// metricLabel keeps the label set bounded when clients send arbitrary event names.
func metricLabel(event string) string {
	switch event {
	case EventJoin, EventJoinUser, EventJoinTeacher, EventMessageAck, EventTypingStart, EventTypingStop,
		EventPresenceOnline, EventPresenceOffline, EventJoinForum, EventLeaveForum, EventSendForum, EventDevAssignmentsUpdate, EventDevAttendanceUpdate, EventDevTimetableUpdate:
		return event
	default:
		return "unknown"
	}
}
