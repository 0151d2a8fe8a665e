package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-realtime/internal/observability"
)

// Conn is a live client connection regardless of the underlying transport.
type Conn interface {
	ID() string
	Transport() string
	// Send queues a frame without blocking. It returns false when the frame was dropped.
	Send(frame []byte) bool
	Close()
}

// Relay carries broadcasts between server nodes.
type Relay interface {
	Publish(ctx context.Context, payload []byte) error
	Subscribe(ctx context.Context, handle func(payload []byte)) error
	Close() error
}

type relayMessage struct {
	Source string          `json:"source"`
	Room   Room            `json:"room,omitempty"`
	Frame  json.RawMessage `json:"frame"`
	SentAt time.Time       `json:"sent_at"`
}

type member struct {
	conn  Conn
	rooms map[Room]struct{}
}

// Hub tracks connections and their room memberships and fans events out to them.
// Membership is connection scoped: unregistering a connection drops every room it joined.
type Hub struct {
	mu      sync.RWMutex
	members map[string]*member
	rooms   map[Room]map[string]Conn

	relay  Relay
	nodeID string
	log    zerolog.Logger
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithRelay makes the hub mirror every broadcast to other nodes through relay.
func WithRelay(relay Relay) HubOption {
	return func(h *Hub) { h.relay = relay }
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		members: make(map[string]*member),
		rooms:   make(map[Room]map[string]Conn),
		nodeID:  uuid.NewString(),
		log:     logger.With().Str("component", "realtime_hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start subscribes to the relay, if any, so broadcasts from other nodes reach local clients.
func (h *Hub) Start(ctx context.Context) error {
	if h.relay == nil {
		return nil
	}
	return h.relay.Subscribe(ctx, h.handleRelay)
}

// Register adds a connection with no room memberships.
func (h *Hub) Register(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.members[conn.ID()]; exists {
		return
	}
	h.members[conn.ID()] = &member{conn: conn, rooms: make(map[Room]struct{})}
	observability.RealtimeConnections().WithLabelValues(conn.Transport()).Inc()
	h.log.Debug().Str("connection_id", conn.ID()).Str("transport", conn.Transport()).Msg("connection registered")
}

// Unregister removes a connection and all of its room memberships.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[conn.ID()]
	if !ok {
		return
	}
	for room := range m.rooms {
		h.removeFromRoom(room, conn.ID())
	}
	delete(h.members, conn.ID())
	observability.RealtimeConnections().WithLabelValues(conn.Transport()).Dec()
	h.log.Debug().Str("connection_id", conn.ID()).Msg("connection unregistered")
}

// Join adds a registered connection to room. Joining twice is a no-op.
// It reports false when the connection is not registered.
func (h *Hub) Join(conn Conn, room Room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.members[conn.ID()]
	if !ok {
		return false
	}
	m.rooms[room] = struct{}{}
	clients, exists := h.rooms[room]
	if !exists {
		clients = make(map[string]Conn)
		h.rooms[room] = clients
	}
	clients[conn.ID()] = conn
	return true
}

// Leave removes a connection from room.
func (h *Hub) Leave(conn Conn, room Room) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if m, ok := h.members[conn.ID()]; ok {
		delete(m.rooms, room)
	}
	h.removeFromRoom(room, conn.ID())
}

func (h *Hub) removeFromRoom(room Room, connID string) {
	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(clients, connID)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
}

// RoomSize returns the number of local connections in room.
func (h *Hub) RoomSize(room Room) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnectionCount returns the number of registered local connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

// SendTo delivers an event to a single connection.
func (h *Hub) SendTo(conn Conn, evt OutboundEvent) {
	frame, err := Encode(evt)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode unicast event")
		return
	}
	if !conn.Send(frame) {
		h.log.Warn().Str("connection_id", conn.ID()).Str("event", evt.EventName()).Msg("dropping event for slow client")
	}
}

// BroadcastToRoom delivers an event to every connection currently in room.
// Clients that are not connected simply miss it.
func (h *Hub) BroadcastToRoom(ctx context.Context, room Room, evt OutboundEvent) {
	frame, err := Encode(evt)
	if err != nil {
		h.log.Error().Err(err).Str("room", room.String()).Msg("failed to encode room event")
		return
	}
	observability.RealtimeBroadcasts().WithLabelValues(string(room.Kind())).Inc()
	h.deliver(room, frame, "")
	h.publish(ctx, room, frame)
}

// BroadcastToRoomExcept is BroadcastToRoom without the sending connection.
// Connection ids are node local, so other nodes deliver to the whole room.
func (h *Hub) BroadcastToRoomExcept(ctx context.Context, room Room, evt OutboundEvent, sender Conn) {
	frame, err := Encode(evt)
	if err != nil {
		h.log.Error().Err(err).Str("room", room.String()).Msg("failed to encode room event")
		return
	}
	observability.RealtimeBroadcasts().WithLabelValues(string(room.Kind())).Inc()
	h.deliver(room, frame, sender.ID())
	h.publish(ctx, room, frame)
}

// BroadcastGlobal delivers an event to every connected client.
func (h *Hub) BroadcastGlobal(ctx context.Context, evt OutboundEvent) {
	frame, err := Encode(evt)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode global event")
		return
	}
	observability.RealtimeBroadcasts().WithLabelValues("global").Inc()
	h.deliver(Room{}, frame, "")
	h.publish(ctx, Room{}, frame)
}

// deliver sends frame to the local members of room, or to everyone for the
// zero room, skipping the connection with id skip.
func (h *Hub) deliver(room Room, frame []byte, skip string) {
	h.mu.RLock()
	targets := make([]Conn, 0)
	if room.IsZero() {
		for _, m := range h.members {
			targets = append(targets, m.conn)
		}
	} else {
		for id, conn := range h.rooms[room] {
			if id == skip {
				continue
			}
			targets = append(targets, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		if !conn.Send(frame) {
			h.log.Warn().Str("connection_id", conn.ID()).Str("room", room.String()).Msg("dropping event for slow client")
		}
	}
}

func (h *Hub) publish(ctx context.Context, room Room, frame []byte) {
	if h.relay == nil {
		return
	}
	payload, err := json.Marshal(relayMessage{
		Source: h.nodeID,
		Room:   room,
		Frame:  frame,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to marshal relay message")
		return
	}
	if err := h.relay.Publish(ctx, payload); err != nil {
		h.log.Warn().Err(err).Msg("failed to publish realtime event to relay")
	}
}

func (h *Hub) handleRelay(payload []byte) {
	var msg relayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		h.log.Warn().Err(err).Msg("invalid relay message")
		return
	}
	if msg.Source == h.nodeID {
		return
	}
	h.deliver(msg.Room, msg.Frame, "")
}

// Close disconnects every client. The transports unregister themselves as they shut down.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.members))
	for _, m := range h.members {
		conns = append(conns, m.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
	if h.relay != nil {
		if err := h.relay.Close(); err != nil {
			h.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
}
