package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	transportPolling  = "polling"
	pollQueueCapacity = 256
)

// pollConn buffers outbound frames until the client collects them with a poll request.
type pollConn struct {
	id string

	mu       sync.Mutex
	queue    [][]byte
	lastSeen time.Time
	waiting  int

	// inbound serialises Submit calls so events keep their arrival order.
	inbound sync.Mutex

	notify  chan struct{}
	closed  chan struct{}
	once    sync.Once
	onClose func()
	now     func() time.Time
}

func newPollConn(now func() time.Time) *pollConn {
	return &pollConn{
		id:       uuid.NewString(),
		lastSeen: now(),
		notify:   make(chan struct{}, 1),
		closed:   make(chan struct{}),
		now:      now,
	}
}

func (c *pollConn) ID() string        { return c.id }
func (c *pollConn) Transport() string { return transportPolling }

func (c *pollConn) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	c.mu.Lock()
	if len(c.queue) >= pollQueueCapacity {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, frame)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *pollConn) Close() {
	c.once.Do(func() {
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

// drain empties the queue and consumes the wake-up token of the frames it
// took, so the next poll waits instead of returning an empty batch at once.
func (c *pollConn) drain() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.notify:
	default:
	}

	c.lastSeen = c.now()
	frames := make([]json.RawMessage, 0, len(c.queue))
	for _, frame := range c.queue {
		frames = append(frames, json.RawMessage(frame))
	}
	c.queue = nil
	return frames
}

func (c *pollConn) touch() {
	c.mu.Lock()
	c.lastSeen = c.now()
	c.mu.Unlock()
}

func (c *pollConn) beginWait() {
	c.mu.Lock()
	c.waiting++
	c.lastSeen = c.now()
	c.mu.Unlock()
}

func (c *pollConn) endWait() {
	c.mu.Lock()
	c.waiting--
	c.lastSeen = c.now()
	c.mu.Unlock()
}

// idleSince reports whether no request has been seen since cutoff and none is in flight.
func (c *pollConn) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiting == 0 && c.lastSeen.Before(cutoff)
}
