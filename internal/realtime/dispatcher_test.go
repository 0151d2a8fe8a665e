package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type dispatcherFixture struct {
	hub        *Hub
	dispatcher *Dispatcher
	deliveries *deliveryStub
	presence   *presenceStub
}

func newDispatcherFixture(stubMode bool) dispatcherFixture {
	hub := testHub()
	deliveries := &deliveryStub{
		delivered: make(map[string]bool),
		senders:   map[string]string{"M1": "B"},
	}
	presence := &presenceStub{hub: hub}
	cfg := DispatcherConfig{
		Hub:         hub,
		Presence:    presence,
		DevTriggers: stubMode,
		Logger:      zerolog.Nop(),
	}
	if !stubMode {
		cfg.Deliveries = deliveries
		cfg.Participants = participantStub{"th-1": {"U", "V", "W"}}
	}
	return dispatcherFixture{
		hub:        hub,
		dispatcher: NewDispatcher(cfg),
		deliveries: deliveries,
		presence:   presence,
	}
}

func (f dispatcherFixture) connect(t *testing.T, id string) *fakeConn {
	t.Helper()
	conn := newFakeConn(id)
	f.dispatcher.Connect(conn, Handshake{})
	conn.reset()
	return conn
}

func TestDispatcherConnectSendsWelcomeOnlyToNewConnection(t *testing.T) {
	f := newDispatcherFixture(false)
	existing := f.connect(t, "existing")

	fresh := newFakeConn("fresh")
	f.dispatcher.Connect(fresh, Handshake{})

	envelopes := fresh.envelopes(t)
	require.Len(t, envelopes, 1)
	require.Equal(t, EventNotification, envelopes[0].Event)

	var welcome Notification
	require.NoError(t, json.Unmarshal(envelopes[0].Data, &welcome))
	require.Equal(t, "system", welcome.Type)
	require.Equal(t, "Connected to real-time updates", welcome.Message)
	require.False(t, welcome.Timestamp.IsZero())

	require.Empty(t, existing.eventNames(t))
	require.Zero(t, f.hub.RoomSize(UserRoom("fresh")))
}

func TestDispatcherScenarioPresenceThenIdempotentAck(t *testing.T) {
	f := newDispatcherFixture(false)
	userA := f.connect(t, "a")
	userB := f.connect(t, "b")
	bystander := f.connect(t, "c")

	f.dispatcher.Handle(context.Background(), userB, frame(t, EventJoinUser, "B"))
	f.dispatcher.Handle(context.Background(), userA, frame(t, EventPresenceOnline, map[string]string{"userId": "A", "role": "teacher"}))

	for _, conn := range []*fakeConn{userA, userB, bystander} {
		require.Equal(t, []string{EventPresenceUpdate}, conn.eventNames(t))
	}

	f.dispatcher.Handle(context.Background(), userA, frame(t, EventMessageAck, map[string]string{"messageId": "M1"}))
	f.dispatcher.Handle(context.Background(), userA, frame(t, EventMessageAck, map[string]string{"messageId": "M1"}))

	envelopes := userB.envelopes(t)
	require.Len(t, envelopes, 2)
	require.Equal(t, EventMessageStatus, envelopes[1].Event)
	require.JSONEq(t, `{"messageId":"M1","delivered":true}`, string(envelopes[1].Data))
	require.Equal(t, 2, f.deliveries.calls)

	require.Len(t, bystander.eventNames(t), 1)
}

func TestDispatcherTypingExcludesSender(t *testing.T) {
	f := newDispatcherFixture(false)
	conns := map[string]*fakeConn{}
	for _, user := range []string{"U", "V", "W", "X"} {
		conn := f.connect(t, "conn-"+user)
		f.dispatcher.Handle(context.Background(), conn, frame(t, EventJoinUser, user))
		conns[user] = conn
	}

	f.dispatcher.Handle(context.Background(), conns["U"], frame(t, EventTypingStart, map[string]string{"threadId": "th-1", "userId": "U"}))

	require.Empty(t, conns["U"].eventNames(t))
	require.Empty(t, conns["X"].eventNames(t))
	for _, user := range []string{"V", "W"} {
		envelopes := conns[user].envelopes(t)
		require.Len(t, envelopes, 1)
		require.JSONEq(t, `{"threadId":"th-1","userId":"U","typing":true}`, string(envelopes[0].Data))
	}

	f.dispatcher.Handle(context.Background(), conns["V"], frame(t, EventTypingStop, map[string]string{"threadId": "th-1", "userId": "V"}))
	envelopes := conns["U"].envelopes(t)
	require.Len(t, envelopes, 1)
	require.JSONEq(t, `{"threadId":"th-1","userId":"V","typing":false}`, string(envelopes[0].Data))
}

func TestDispatcherStubModeIgnoresAckAndTyping(t *testing.T) {
	f := newDispatcherFixture(true)
	conn := f.connect(t, "c")
	f.dispatcher.Handle(context.Background(), conn, frame(t, EventJoinUser, "B"))

	require.NotPanics(t, func() {
		f.dispatcher.Handle(context.Background(), conn, frame(t, EventMessageAck, map[string]string{"messageId": "M1"}))
		f.dispatcher.Handle(context.Background(), conn, frame(t, EventTypingStart, map[string]string{"threadId": "th-1", "userId": "U"}))
	})
	require.Zero(t, f.deliveries.calls)
	require.Empty(t, conn.eventNames(t))

	f.dispatcher.Handle(context.Background(), conn, frame(t, EventPresenceOffline, map[string]string{"userId": "B"}))
	require.Equal(t, []string{"offline:B"}, f.presence.log)
}

func TestDispatcherTeacherRoomAndDevTriggers(t *testing.T) {
	f := newDispatcherFixture(true)
	dashboard := f.connect(t, "dash")
	other := f.connect(t, "other")
	f.dispatcher.Handle(context.Background(), dashboard, frame(t, EventJoinTeacher, map[string]string{"teacherId": "T"}))
	f.dispatcher.Handle(context.Background(), other, frame(t, EventJoinTeacher, map[string]string{"teacherId": "Q"}))

	f.dispatcher.Handle(context.Background(), other, frame(t, EventDevAssignmentsUpdate, map[string]interface{}{"teacherId": "T", "pending": 4}))
	f.dispatcher.Handle(context.Background(), other, frame(t, EventDevAttendanceUpdate, map[string]interface{}{"teacherId": "T", "total": 31}))
	f.dispatcher.Handle(context.Background(), other, frame(t, EventDevTimetableUpdate, map[string]interface{}{"teacherId": "T", "today": []string{"Maths"}}))

	envelopes := dashboard.envelopes(t)
	require.Len(t, envelopes, 3)
	require.JSONEq(t, `{"pendingAssignments":4}`, string(envelopes[0].Data))
	require.JSONEq(t, `{"totalStudents":31}`, string(envelopes[1].Data))
	require.JSONEq(t, `{"today":["Maths"]}`, string(envelopes[2].Data))
	require.Empty(t, other.eventNames(t))
}

func TestDispatcherDevTriggersDisabledOutsideDevMode(t *testing.T) {
	f := newDispatcherFixture(false)
	dashboard := f.connect(t, "dash")
	f.dispatcher.Handle(context.Background(), dashboard, frame(t, EventJoinTeacher, map[string]string{"teacherId": "T"}))

	f.dispatcher.Handle(context.Background(), dashboard, frame(t, EventDevAssignmentsUpdate, map[string]interface{}{"teacherId": "T", "pending": 4}))

	require.Empty(t, dashboard.eventNames(t))
}

type panickingPresence struct{}

func (panickingPresence) SetOnline(context.Context, string, string, string) error {
	panic("boom")
}

func (panickingPresence) SetOffline(context.Context, string) error {
	return errors.New("database unavailable")
}

func TestDispatcherSupervisorAbsorbsFailures(t *testing.T) {
	hub := testHub()
	dispatcher := NewDispatcher(DispatcherConfig{
		Hub:        hub,
		Presence:   panickingPresence{},
		Deliveries: &deliveryStub{err: errors.New("timeout")},
		Logger:     zerolog.Nop(),
	})
	conn := newFakeConn("c")
	dispatcher.Connect(conn, Handshake{})
	conn.reset()

	require.NotPanics(t, func() {
		dispatcher.Handle(context.Background(), conn, frame(t, EventPresenceOnline, map[string]string{"userId": "A"}))
		dispatcher.Handle(context.Background(), conn, frame(t, EventPresenceOffline, map[string]string{"userId": "A"}))
		dispatcher.Handle(context.Background(), conn, frame(t, EventMessageAck, map[string]string{"messageId": "M1"}))
		dispatcher.Handle(context.Background(), conn, []byte(`{broken`))
		dispatcher.Handle(context.Background(), conn, frame(t, "unknown:event", nil))
		dispatcher.Handle(context.Background(), conn, frame(t, EventJoinTeacher, map[string]string{}))
	})

	// The connection survives and keeps working.
	dispatcher.Handle(context.Background(), conn, frame(t, EventJoinUser, "A"))
	require.Equal(t, 1, hub.RoomSize(UserRoom("A")))
	require.Empty(t, conn.eventNames(t))
}

func TestDispatcherConnectJoinsForumFromRole(t *testing.T) {
	f := newDispatcherFixture(false)

	teacherConn := newFakeConn("t")
	f.dispatcher.Connect(teacherConn, Handshake{Role: "teacher"})
	parentConn := newFakeConn("p")
	f.dispatcher.Connect(parentConn, Handshake{Role: "Parent"})
	studentConn := newFakeConn("s")
	f.dispatcher.Connect(studentConn, Handshake{Role: "student"})

	require.Equal(t, 1, f.hub.RoomSize(ForumRoom(TeachersForum)))
	require.Equal(t, 1, f.hub.RoomSize(ForumRoom(ParentsForum)))
	for _, conn := range []*fakeConn{teacherConn, parentConn, studentConn} {
		require.Equal(t, []string{EventNotification}, conn.eventNames(t))
	}

	f.dispatcher.Disconnect(teacherConn)
	require.Zero(t, f.hub.RoomSize(ForumRoom(TeachersForum)))
}

func TestDispatcherForumMessagesSkipSender(t *testing.T) {
	f := newDispatcherFixture(false)
	at := time.Date(2024, 5, 1, 7, 30, 0, 0, time.UTC)
	f.dispatcher.now = func() time.Time { return at }

	author := f.connect(t, "author")
	reader := f.connect(t, "reader")
	outsider := f.connect(t, "outsider")
	ctx := context.Background()

	f.dispatcher.Handle(ctx, author, frame(t, EventJoinForum, "science_club"))
	f.dispatcher.Handle(ctx, reader, frame(t, EventJoinForum, "science_club"))
	require.Equal(t, 2, f.hub.RoomSize(ForumRoom("science_club")))

	f.dispatcher.Handle(ctx, author, frame(t, EventSendForum, map[string]interface{}{
		"forumName": "science_club",
		"message":   map[string]string{"text": "Lab at 3", "timestamp": "yesterday"},
	}))

	envelopes := reader.envelopes(t)
	require.Len(t, envelopes, 1)
	require.Equal(t, EventForumMessage, envelopes[0].Event)
	require.JSONEq(t, `{"text":"Lab at 3","timestamp":"2024-05-01T07:30:00.000Z"}`, string(envelopes[0].Data))
	require.Empty(t, author.eventNames(t))
	require.Empty(t, outsider.eventNames(t))

	// A message that is not an object is rejected without touching the room.
	f.dispatcher.Handle(ctx, author, frame(t, EventSendForum, map[string]interface{}{"forumName": "science_club", "message": "hi"}))
	require.Len(t, reader.envelopes(t), 1)

	f.dispatcher.Handle(ctx, reader, frame(t, EventLeaveForum, "science_club"))
	f.dispatcher.Handle(ctx, author, frame(t, EventSendForum, map[string]interface{}{
		"forumName": "science_club",
		"message":   map[string]string{"text": "anyone?"},
	}))
	require.Len(t, reader.envelopes(t), 1)
	require.Equal(t, 1, f.hub.RoomSize(ForumRoom("science_club")))
}

func TestDispatcherForumPostWithoutMembership(t *testing.T) {
	f := newDispatcherFixture(true)
	member := newFakeConn("member")
	f.dispatcher.Connect(member, Handshake{Role: "parent"})
	member.reset()
	visitor := f.connect(t, "visitor")

	f.dispatcher.Handle(context.Background(), visitor, frame(t, EventSendForum, map[string]interface{}{
		"forumName": ParentsForum,
		"message":   map[string]interface{}{"from": "office", "body": "School closed Friday"},
	}))

	envelopes := member.envelopes(t)
	require.Len(t, envelopes, 1)
	var post map[string]interface{}
	require.NoError(t, json.Unmarshal(envelopes[0].Data, &post))
	require.Equal(t, "office", post["from"])
	require.NotEmpty(t, post["timestamp"])
	require.Empty(t, visitor.eventNames(t))
}
