package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

const (
	transportWebSocket = "websocket"
	wsSendBufferSize   = 64
	wsWriteWait        = 10 * time.Second
)

type wsConn struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsSendBufferSize),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string        { return c.id }
func (c *wsConn) Transport() string { return transportWebSocket }

func (c *wsConn) Send(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// ServeWebSocket runs a WebSocket connection until the client goes away, the
// heartbeat lapses, or the hub closes it. It blocks for the connection's lifetime.
func (g *Gateway) ServeWebSocket(ctx context.Context, conn *websocket.Conn, hs Handshake) {
	if ctx == nil {
		ctx = context.Background()
	}
	client := newWSConn(conn)

	g.dispatcher.Connect(client, hs)
	defer func() {
		client.Close()
		g.dispatcher.Disconnect(client)
	}()

	go g.writeLoop(client)
	g.readLoop(ctx, client)
}

func (g *Gateway) readDeadline() time.Time {
	return g.now().Add(g.pingInterval + g.pingTimeout)
}

func (g *Gateway) readLoop(ctx context.Context, client *wsConn) {
	_ = client.conn.SetReadDeadline(g.readDeadline())
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(g.readDeadline())
	})

	for {
		messageType, payload, err := client.conn.ReadMessage()
		if err != nil {
			g.logger.Debug().Err(err).Str("connection_id", client.id).Msg("websocket read loop ended")
			return
		}
		_ = client.conn.SetReadDeadline(g.readDeadline())
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		g.dispatcher.Handle(ctx, client, payload)
	}
}

func (g *Gateway) writeLoop(client *wsConn) {
	ticker := time.NewTicker(g.pingInterval)
	defer func() {
		ticker.Stop()
		client.Close()
	}()

	for {
		select {
		case frame := <-client.send:
			_ = client.conn.SetWriteDeadline(g.now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				g.logger.Debug().Err(err).Str("connection_id", client.id).Msg("websocket write loop terminated")
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, g.now().Add(wsWriteWait)); err != nil {
				g.logger.Debug().Err(err).Str("connection_id", client.id).Msg("websocket ping failed")
				return
			}
		case <-client.closed:
			return
		}
	}
}
