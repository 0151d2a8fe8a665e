package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/gema-realtime/internal/dto"
)

// Inbound event names.
const (
	EventJoin            = "join"
	EventJoinUser        = "joinUser"
	EventJoinTeacher     = "joinTeacher"
	EventMessageAck      = "message:ack"
	EventTypingStart     = "typing:start"
	EventTypingStop      = "typing:stop"
	EventPresenceOnline  = "presence:online"
	EventPresenceOffline = "presence:offline"
	EventJoinForum       = "join_forum"
	EventLeaveForum      = "leave_forum"
	EventSendForum       = "send_forum_message"

	EventDevAssignmentsUpdate = "dev:assignments:update"
	EventDevAttendanceUpdate  = "dev:attendance:update"
	EventDevTimetableUpdate   = "dev:timetable:update"
)

// Outbound event names.
const (
	EventNotification      = "notification"
	EventMessageStatus     = "message:status"
	EventTyping            = "typing"
	EventPresenceUpdate    = "presence:update"
	EventMessage           = "message"
	EventAssignmentsUpdate = "assignments:update"
	EventAttendanceUpdate  = "attendance:update"
	EventTimetableUpdate   = "timetable:update"
	EventForumMessage      = "forum_message"
)

// forumTimestampLayout matches the millisecond UTC stamps browsers produce.
const forumTimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ErrUnknownEvent is returned by ParseInbound for event names the server does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the wire frame used in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ID accepts identifiers sent either as JSON strings or numbers.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("identifier must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// InboundEvent is implemented by every parsed client event.
type InboundEvent interface {
	EventName() string
}

// JoinStudent asks to join a student notification room.
type JoinStudent struct {
	StudentID ID `validate:"required"`
}

// JoinUser asks to join the generic per-user room.
type JoinUser struct {
	UserID ID `validate:"required"`
}

// JoinTeacher asks to join a teacher dashboard room.
type JoinTeacher struct {
	TeacherID ID `json:"teacherId" validate:"required"`
}

// MessageAck acknowledges receipt of a message.
type MessageAck struct {
	MessageID ID `json:"messageId" validate:"required"`
}

// TypingChange signals that a user started or stopped typing in a thread.
type TypingChange struct {
	ThreadID ID   `json:"threadId" validate:"required"`
	UserID   ID   `json:"userId" validate:"required"`
	Typing   bool `json:"-"`
}

// PresenceOnline marks a user online.
type PresenceOnline struct {
	UserID  ID     `json:"userId" validate:"required"`
	Role    string `json:"role"`
	ClassID ID     `json:"classId"`
}

// PresenceOffline marks a user offline.
type PresenceOffline struct {
	UserID ID `json:"userId" validate:"required"`
}

// JoinForum subscribes the connection to a named forum.
type JoinForum struct {
	Forum string `validate:"required,max=128"`
}

// LeaveForum unsubscribes the connection from a named forum.
type LeaveForum struct {
	Forum string `validate:"required,max=128"`
}

// SendForumMessage posts a message object to every other member of a forum.
type SendForumMessage struct {
	ForumName string          `json:"forumName" validate:"required,max=128"`
	Message   json.RawMessage `json:"message"`
}

// DevAssignmentsUpdate pushes a pending assignment count to a teacher dashboard.
type DevAssignmentsUpdate struct {
	TeacherID ID  `json:"teacherId" validate:"required"`
	Pending   int `json:"pending"`
}

// DevAttendanceUpdate pushes a student total to a teacher dashboard.
type DevAttendanceUpdate struct {
	TeacherID ID  `json:"teacherId" validate:"required"`
	Total     int `json:"total"`
}

// DevTimetableUpdate pushes today's timetable to a teacher dashboard.
type DevTimetableUpdate struct {
	TeacherID ID              `json:"teacherId" validate:"required"`
	Today     json.RawMessage `json:"today"`
}

func (JoinStudent) EventName() string          { return EventJoin }
func (JoinUser) EventName() string             { return EventJoinUser }
func (JoinTeacher) EventName() string          { return EventJoinTeacher }
func (MessageAck) EventName() string           { return EventMessageAck }
func (PresenceOnline) EventName() string       { return EventPresenceOnline }
func (PresenceOffline) EventName() string      { return EventPresenceOffline }
func (JoinForum) EventName() string            { return EventJoinForum }
func (LeaveForum) EventName() string           { return EventLeaveForum }
func (SendForumMessage) EventName() string     { return EventSendForum }
func (DevAssignmentsUpdate) EventName() string { return EventDevAssignmentsUpdate }
func (DevAttendanceUpdate) EventName() string  { return EventDevAttendanceUpdate }
func (DevTimetableUpdate) EventName() string   { return EventDevTimetableUpdate }

func (e TypingChange) EventName() string {
	if e.Typing {
		return EventTypingStart
	}
	return EventTypingStop
}

// DecodeEnvelope parses a raw frame into an envelope.
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		return Envelope{}, errors.New("decode envelope: event name missing")
	}
	return env, nil
}

// ParseInbound turns an envelope into its typed event.
func ParseInbound(env Envelope) (InboundEvent, error) {
	switch env.Event {
	case EventJoin:
		var id ID
		if err := decodeData(env, &id); err != nil {
			return nil, err
		}
		return JoinStudent{StudentID: id}, nil
	case EventJoinUser:
		var id ID
		if err := decodeData(env, &id); err != nil {
			return nil, err
		}
		return JoinUser{UserID: id}, nil
	case EventJoinTeacher:
		return parseAs[JoinTeacher](env)
	case EventMessageAck:
		return parseAs[MessageAck](env)
	case EventTypingStart, EventTypingStop:
		var evt TypingChange
		if err := decodeData(env, &evt); err != nil {
			return nil, err
		}
		evt.Typing = env.Event == EventTypingStart
		return evt, nil
	case EventPresenceOnline:
		return parseAs[PresenceOnline](env)
	case EventPresenceOffline:
		return parseAs[PresenceOffline](env)
	case EventJoinForum:
		var name string
		if err := decodeData(env, &name); err != nil {
			return nil, err
		}
		return JoinForum{Forum: strings.TrimSpace(name)}, nil
	case EventLeaveForum:
		var name string
		if err := decodeData(env, &name); err != nil {
			return nil, err
		}
		return LeaveForum{Forum: strings.TrimSpace(name)}, nil
	case EventSendForum:
		return parseAs[SendForumMessage](env)
	case EventDevAssignmentsUpdate:
		return parseAs[DevAssignmentsUpdate](env)
	case EventDevAttendanceUpdate:
		return parseAs[DevAttendanceUpdate](env)
	case EventDevTimetableUpdate:
		return parseAs[DevTimetableUpdate](env)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
	}
}

func parseAs[T InboundEvent](env Envelope) (InboundEvent, error) {
	var evt T
	if err := decodeData(env, &evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// decodeData leaves target untouched when the payload is absent.
func decodeData(env Envelope, target interface{}) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return nil
}

// OutboundEvent is implemented by every event the server emits.
type OutboundEvent interface {
	EventName() string
}

// Notification is the generic system notice, sent as a welcome on connect.
type Notification struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStatus reports delivery or read progress to a message sender.
type MessageStatus struct {
	MessageID string `json:"messageId"`
	Delivered *bool  `json:"delivered,omitempty"`
	Read      *bool  `json:"read,omitempty"`
}

// Typing tells thread participants that someone is typing.
type Typing struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
	Typing   bool   `json:"typing"`
}

// PresenceUpdate announces a presence transition to every client.
type PresenceUpdate struct {
	UserID   string     `json:"userId"`
	Role     string     `json:"role,omitempty"`
	ClassID  *string    `json:"classId,omitempty"`
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

// MessageCreated carries a freshly sent message to its recipient.
type MessageCreated struct {
	ThreadID string              `json:"threadId"`
	Message  dto.MessageResponse `json:"message"`
}

// AssignmentsUpdate refreshes the pending assignments tile on a teacher dashboard.
type AssignmentsUpdate struct {
	PendingAssignments int `json:"pendingAssignments"`
}

// AttendanceUpdate refreshes the attendance tile on a teacher dashboard.
type AttendanceUpdate struct {
	TotalStudents int `json:"totalStudents"`
}

// TimetableUpdate refreshes the timetable tile on a teacher dashboard.
type TimetableUpdate struct {
	Today json.RawMessage `json:"today"`
}

// ForumMessage relays a forum post: the sender's message fields plus the
// server timestamp, which overrides any timestamp the sender supplied.
type ForumMessage struct {
	Fields    map[string]json.RawMessage
	Timestamp time.Time
}

// NewForumMessage builds a forum post from the raw message object.
func NewForumMessage(raw json.RawMessage, at time.Time) (ForumMessage, error) {
	fields := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return ForumMessage{}, fmt.Errorf("forum message must be an object: %w", err)
		}
	}
	return ForumMessage{Fields: fields, Timestamp: at}, nil
}

// MarshalJSON implements json.Marshaler.
func (m ForumMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Fields)+1)
	for key, value := range m.Fields {
		out[key] = value
	}
	stamp, err := json.Marshal(m.Timestamp.UTC().Format(forumTimestampLayout))
	if err != nil {
		return nil, err
	}
	out["timestamp"] = stamp
	return json.Marshal(out)
}

func (ForumMessage) EventName() string      { return EventForumMessage }
func (Notification) EventName() string      { return EventNotification }
func (MessageStatus) EventName() string     { return EventMessageStatus }
func (Typing) EventName() string            { return EventTyping }
func (PresenceUpdate) EventName() string    { return EventPresenceUpdate }
func (MessageCreated) EventName() string    { return EventMessage }
func (AssignmentsUpdate) EventName() string { return EventAssignmentsUpdate }
func (AttendanceUpdate) EventName() string  { return EventAttendanceUpdate }
func (TimetableUpdate) EventName() string   { return EventTimetableUpdate }

// Encode renders an outbound event as a wire frame.
func Encode(evt OutboundEvent) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", evt.EventName(), err)
	}
	return json.Marshal(Envelope{Event: evt.EventName(), Data: data})
}

// Delivered is a convenience for building MessageStatus values.
func Delivered(messageID string) MessageStatus {
	yes := true
	return MessageStatus{MessageID: messageID, Delivered: &yes}
}

// Read is a convenience for building MessageStatus values.
func Read(messageID string) MessageStatus {
	yes := true
	return MessageStatus{MessageID: messageID, Read: &yes}
}
