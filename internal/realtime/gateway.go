package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 60 * time.Second
	defaultPollTimeout  = 25 * time.Second
)

// ErrSessionNotFound is returned for unknown or already closed long-poll sessions.
var ErrSessionNotFound = errors.New("poll session not found")

// GatewayConfig holds transport liveness settings.
type GatewayConfig struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	PollTimeout  time.Duration
	Logger       zerolog.Logger
}

// Gateway adapts client transports to the dispatcher: WebSocket connections
// and long-poll sessions both end up as Conn values registered with the hub.
type Gateway struct {
	dispatcher   *Dispatcher
	pingInterval time.Duration
	pingTimeout  time.Duration
	pollTimeout  time.Duration
	logger       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*pollConn

	now func() time.Time
}

// NewGateway creates a gateway in front of dispatcher.
func NewGateway(dispatcher *Dispatcher, cfg GatewayConfig) *Gateway {
	g := &Gateway{
		dispatcher:   dispatcher,
		pingInterval: cfg.PingInterval,
		pingTimeout:  cfg.PingTimeout,
		pollTimeout:  cfg.PollTimeout,
		logger:       cfg.Logger.With().Str("component", "realtime_gateway").Logger(),
		sessions:     make(map[string]*pollConn),
		now:          time.Now,
	}
	if g.pingInterval <= 0 {
		g.pingInterval = defaultPingInterval
	}
	if g.pingTimeout <= 0 {
		g.pingTimeout = defaultPingTimeout
	}
	if g.pollTimeout <= 0 {
		g.pollTimeout = defaultPollTimeout
	}
	return g
}

// Run reaps idle long-poll sessions until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.reapIdle()
		}
	}
}

// OpenPoll starts a long-poll session and returns its id.
func (g *Gateway) OpenPoll(hs Handshake) string {
	conn := newPollConn(g.now)
	conn.onClose = func() {
		g.mu.Lock()
		delete(g.sessions, conn.id)
		g.mu.Unlock()
		g.dispatcher.Disconnect(conn)
	}

	g.mu.Lock()
	g.sessions[conn.id] = conn
	g.mu.Unlock()

	g.dispatcher.Connect(conn, hs)
	return conn.id
}

// Poll waits up to the poll timeout for outbound frames queued for the session.
// An empty result means the wait timed out and the client should poll again.
func (g *Gateway) Poll(ctx context.Context, sid string) ([]json.RawMessage, error) {
	conn, ok := g.session(sid)
	if !ok {
		return nil, ErrSessionNotFound
	}
	conn.beginWait()
	defer conn.endWait()

	if frames := conn.drain(); len(frames) > 0 {
		return frames, nil
	}

	timer := time.NewTimer(g.pollTimeout)
	defer timer.Stop()

	for {
		select {
		case <-conn.notify:
			// A token can outlive the frames it announced; keep waiting then.
			if frames := conn.drain(); len(frames) > 0 {
				return frames, nil
			}
		case <-timer.C:
			return conn.drain(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-conn.closed:
			return nil, ErrSessionNotFound
		}
	}
}

// Submit handles one inbound frame for the session. Frames from the same
// session are processed one at a time, in arrival order.
func (g *Gateway) Submit(ctx context.Context, sid string, frame []byte) error {
	conn, ok := g.session(sid)
	if !ok {
		return ErrSessionNotFound
	}
	conn.touch()

	conn.inbound.Lock()
	defer conn.inbound.Unlock()
	g.dispatcher.Handle(ctx, conn, frame)
	return nil
}

// ClosePoll ends a long-poll session.
func (g *Gateway) ClosePoll(sid string) error {
	conn, ok := g.session(sid)
	if !ok {
		return ErrSessionNotFound
	}
	conn.Close()
	return nil
}

// SessionCount reports the number of open long-poll sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

func (g *Gateway) session(sid string) (*pollConn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn, ok := g.sessions[sid]
	return conn, ok
}

func (g *Gateway) reapIdle() {
	cutoff := g.now().Add(-g.pingTimeout)

	g.mu.Lock()
	idle := make([]*pollConn, 0)
	for _, conn := range g.sessions {
		if conn.idleSince(cutoff) {
			idle = append(idle, conn)
		}
	}
	g.mu.Unlock()

	for _, conn := range idle {
		g.logger.Debug().Str("connection_id", conn.id).Msg("reaping idle poll session")
		conn.Close()
	}
}
