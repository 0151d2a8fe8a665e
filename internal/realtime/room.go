package realtime

import (
	"fmt"
	"strings"
)

// RoomKind enumerates the addressee types a room can be derived from.
type RoomKind string

const (
	RoomStudent RoomKind = "student"
	RoomUser    RoomKind = "user"
	RoomTeacher RoomKind = "teacher"
	RoomForum   RoomKind = "forum"
)

// Forums joined automatically from the role a client announces on connect.
const (
	TeachersForum = "teachers_forum"
	ParentsForum  = "parents_forum"
)

// Room is an opaque broadcast target. Rooms are only built through RoomFor so
// a misspelt prefix cannot produce a room nobody listens on.
type Room struct {
	kind RoomKind
	id   string
}

// RoomFor returns the room for the given addressee.
func RoomFor(kind RoomKind, id string) Room {
	return Room{kind: kind, id: strings.TrimSpace(id)}
}

// StudentRoom is shorthand for RoomFor(RoomStudent, id).
func StudentRoom(id string) Room { return RoomFor(RoomStudent, id) }

// UserRoom is shorthand for RoomFor(RoomUser, id).
func UserRoom(id string) Room { return RoomFor(RoomUser, id) }

// TeacherRoom is shorthand for RoomFor(RoomTeacher, id).
func TeacherRoom(id string) Room { return RoomFor(RoomTeacher, id) }

// ForumRoom is shorthand for RoomFor(RoomForum, name).
func ForumRoom(name string) Room { return RoomFor(RoomForum, name) }

// ForumForRole returns the forum a role belongs to, if any.
func ForumForRole(role string) (Room, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "teacher":
		return ForumRoom(TeachersForum), true
	case "parent":
		return ForumRoom(ParentsForum), true
	default:
		return Room{}, false
	}
}

// Kind reports which addressee type the room belongs to.
func (r Room) Kind() RoomKind { return r.kind }

// ID returns the addressee identifier.
func (r Room) ID() string { return r.id }

// IsZero reports whether the room was never initialised.
func (r Room) IsZero() bool { return r.kind == "" }

// String renders the wire name, e.g. "teacher-42".
func (r Room) String() string {
	return string(r.kind) + "-" + r.id
}

// ParseRoom converts a wire name back into a Room.
func ParseRoom(name string) (Room, error) {
	prefix, id, ok := strings.Cut(name, "-")
	if !ok || id == "" {
		return Room{}, fmt.Errorf("invalid room name %q", name)
	}
	switch kind := RoomKind(prefix); kind {
	case RoomStudent, RoomUser, RoomTeacher, RoomForum:
		return RoomFor(kind, id), nil
	default:
		return Room{}, fmt.Errorf("unknown room kind %q", prefix)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Room) MarshalText() ([]byte, error) {
	if r.IsZero() {
		return []byte{}, nil
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Room) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = Room{}
		return nil
	}
	parsed, err := ParseRoom(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
