// Package gateway owns the WebSocket transport: one Conn per client with a
// read pump and a single-writer pump, and the Server registry that tracks
// live connections.
package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fluxstack/fluxlive/internal/auth"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// drainWait bounds the final flush of queued frames at close.
	drainWait = 2 * time.Second
)

// Conn is one WebSocket connection. Two outbound lanes feed a single writer
// goroutine: send carries droppable STATE_UPDATE and BROADCAST frames,
// responses carries correlated ACTION_RESPONSE and ERROR frames so
// request/response traffic does not starve under fanout load.
type Conn struct {
	id        string
	server    *Server
	conn      *websocket.Conn
	send      chan []byte
	responses chan []byte
	closeCh   chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	log       zerolog.Logger

	mu      sync.RWMutex
	authCtx *auth.Context

	closed    atomic.Bool
	degraded  atomic.Bool
	closeOnce sync.Once

	// Rate limiting state, only touched from readPump.
	frameCount  int
	windowStart time.Time
}

func newConn(server *Server, ws *websocket.Conn, logger zerolog.Logger) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Conn{
		id:        id,
		server:    server,
		conn:      ws,
		send:      make(chan []byte, server.cfg.WSSendBuffer),
		responses: make(chan []byte, server.cfg.WSResponseBuffer),
		closeCh:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		authCtx:   auth.Anonymous(),
		log:       logger.With().Str("connectionId", id).Logger(),
	}
}

// ID returns the connection's process-unique id.
func (c *Conn) ID() string { return c.id }

// AuthContext returns the connection's current auth context.
func (c *Conn) AuthContext() *auth.Context {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authCtx
}

// SetAuthContext replaces the connection's auth context after a successful
// AUTH exchange.
func (c *Conn) SetAuthContext(authCtx *auth.Context) {
	c.mu.Lock()
	c.authCtx = authCtx
	c.mu.Unlock()
}

// Degraded reports whether the connection has dropped at least one frame.
func (c *Conn) Degraded() bool {
	return c.degraded.Load()
}

// Send enqueues a droppable frame. When the buffer is full the frame is
// dropped and the connection is marked degraded; the runtime never blocks on
// a slow consumer.
func (c *Conn) Send(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		if c.degraded.CompareAndSwap(false, true) {
			c.log.Warn().Msg("send buffer full, connection degraded")
		}
		return false
	}
}

// SendResponse enqueues a frame on the reserved response lane. It blocks the
// calling action worker until the writer accepts the frame or the connection
// closes.
func (c *Conn) SendResponse(frame []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.responses <- frame:
		return true
	case <-c.closeCh:
		return false
	}
}

// readPump reads inbound frames and hands them to the runtime. It owns the
// connection teardown: when the loop exits for any reason, cleanup runs.
func (c *Conn) readPump() {
	defer c.Close()

	c.conn.SetReadLimit(int64(c.server.cfg.WSMaxMessageBytes))

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				c.closeWithCode(websocket.CloseInternalServerErr, "frame too large")
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		if c.rateLimited() {
			c.closeWithCode(CloseRateLimited, "rate limit exceeded")
			return
		}

		c.server.runtime.HandleFrame(c.ctx, c, message)
	}
}

// writePump owns the socket write half. It prefers the response lane, falling
// back to the droppable lane, and performs a bounded drain at close.
func (c *Conn) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.responses:
			if !c.write(msg) {
				return
			}
		default:
			select {
			case msg := <-c.responses:
				if !c.write(msg) {
					return
				}
			case msg := <-c.send:
				if !c.write(msg) {
					return
				}
			case <-c.closeCh:
				c.drain()
				return
			}
		}
	}
}

func (c *Conn) write(msg []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		c.log.Debug().Err(err).Msg("websocket write error")
		return false
	}
	return true
}

// drain flushes whatever is already queued, under one short deadline.
func (c *Conn) drain() {
	deadline := time.Now().Add(drainWait)
	for {
		select {
		case msg := <-c.responses:
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(deadline)
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// rateLimited applies the per-connection inbound frame limit over a sliding
// window.
func (c *Conn) rateLimited() bool {
	now := time.Now()
	window := time.Duration(c.server.cfg.RateLimitWSWindowSeconds) * time.Second
	if now.Sub(c.windowStart) > window {
		c.frameCount = 0
		c.windowStart = now
	}
	c.frameCount++
	return c.frameCount > c.server.cfg.RateLimitWSCount
}

// closeWithCode sends a close frame with the given code before tearing the
// connection down.
func (c *Conn) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// Close tears the connection down once: outbound lanes stop accepting, the
// writer drains, and the runtime unmounts everything this connection owned.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		close(c.closeCh)
		c.server.unregister(c)
		c.server.runtime.Disconnect(c)
		c.log.Debug().Msg("connection closed")
	})
}
