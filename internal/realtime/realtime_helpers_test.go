package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string        { return c.id }
func (c *fakeConn) Transport() string { return "fake" }

func (c *fakeConn) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.frames))
	for _, frame := range c.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) eventNames(t *testing.T) []string {
	t.Helper()
	names := make([]string, 0)
	for _, env := range c.envelopes(t) {
		names = append(names, env.Event)
	}
	return names
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func frame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	payload := map[string]interface{}{"event": event}
	if data != nil {
		payload["data"] = data
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return raw
}

type deliveryStub struct {
	mu        sync.Mutex
	delivered map[string]bool
	senders   map[string]string
	calls     int
	err       error
}

func (d *deliveryStub) MarkDelivered(_ context.Context, messageID string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return "", false, d.err
	}
	sender, ok := d.senders[messageID]
	if !ok || d.delivered[messageID] {
		return "", false, nil
	}
	d.delivered[messageID] = true
	return sender, true, nil
}

type participantStub map[string][]string

func (p participantStub) OtherParticipants(_ context.Context, threadID, excludeUserID string) ([]string, error) {
	out := make([]string, 0)
	for _, userID := range p[threadID] {
		if userID != excludeUserID {
			out = append(out, userID)
		}
	}
	return out, nil
}

type presenceStub struct {
	hub *Hub
	mu  sync.Mutex
	log []string
}

func (p *presenceStub) SetOnline(ctx context.Context, userID, role, classID string) error {
	p.mu.Lock()
	p.log = append(p.log, "online:"+userID)
	p.mu.Unlock()
	p.hub.BroadcastGlobal(ctx, PresenceUpdate{UserID: userID, Role: role, IsOnline: true})
	return nil
}

func (p *presenceStub) SetOffline(ctx context.Context, userID string) error {
	p.mu.Lock()
	p.log = append(p.log, "offline:"+userID)
	p.mu.Unlock()
	p.hub.BroadcastGlobal(ctx, PresenceUpdate{UserID: userID, IsOnline: false})
	return nil
}

func testHub() *Hub {
	return NewHub(zerolog.Nop())
}
