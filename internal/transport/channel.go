// Package transport owns the single WebSocket connection to the backend.
// It handles connect/reconnect with capped exponential backoff, frames all
// traffic as wire.Frame JSON messages, and fans every inbound frame out to
// all registered consumers. Connection state is surfaced exclusively through
// the Monitor; connection errors are never thrown synchronously to senders
// beyond an explicit fail-fast mode.
package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/GenorTG/personal-assistant-sub001/internal/apperrors"
	"github.com/GenorTG/personal-assistant-sub001/internal/wire"
)

const (
	// writeTimeout bounds a single frame write so a dead connection can't
	// hang senders indefinitely.
	writeTimeout = 10 * time.Second

	// readLimit caps inbound frame size. Conversation payloads are text;
	// anything larger than this is a protocol violation.
	readLimit = 512 * 1024

	// pongWait is the read deadline extension granted on each pong.
	pongWait = 60 * time.Second

	// pingInterval is how often keep-alive pings are sent. Must be
	// shorter than pongWait.
	pingInterval = 30 * time.Second

	// queueLimit bounds frames buffered by SendQueued while disconnected.
	queueLimit = 256

	// Reconnect backoff bounds. Initial delay doubles per failed attempt
	// up to the cap; attempts continue until Disconnect.
	reconnectInitialDelay = 500 * time.Millisecond
	reconnectMaxDelay     = 30 * time.Second
)

// FrameHandler consumes inbound frames. Every handler sees every frame;
// consumers act only on the frames they recognize.
type FrameHandler func(*wire.Frame)

// DropHandler is notified when an established connection is lost, before
// any reconnect attempt begins. The correlator uses this to reject all
// pending requests so callers are never left dangling.
type DropHandler func(error)

// Config configures a Channel.
type Config struct {
	// URL is the WebSocket endpoint, e.g. "ws://127.0.0.1:8080/ws".
	URL string

	// Dialer overrides the default gorilla dialer. Used by tests.
	Dialer *websocket.Dialer
}

// Channel owns the physical socket. There is one Channel per client
// session, created lazily by Shared and held by reference everywhere.
type Channel struct {
	url     string
	dialer  *websocket.Dialer
	monitor *Monitor

	// limiter smooths outbound writes so a burst of optimistic mutations
	// cannot flood the socket. 200 frames/sec with a burst of 50.
	limiter *rate.Limiter

	mu           sync.Mutex
	conn         *websocket.Conn
	handlers     []FrameHandler
	dropHandlers []DropHandler
	queued       []*wire.Frame
	closed       bool
	connecting   bool
	connGen      int // incremented per established connection

	// stopCh is closed by Disconnect so a reconnect loop parked in its
	// backoff sleep exits immediately instead of waking later.
	stopCh chan struct{}
}

// New creates a Channel for the given backend. The channel starts
// disconnected; call Connect to establish the socket.
func New(cfg Config) *Channel {
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Channel{
		url:     cfg.URL,
		dialer:  dialer,
		monitor: NewMonitor(),
		limiter: rate.NewLimiter(rate.Limit(200), 50),
		stopCh:  make(chan struct{}),
	}
}

// Monitor returns the connection state monitor for this channel.
func (c *Channel) Monitor() *Monitor {
	return c.monitor
}

// OnMessage registers a consumer for inbound frames. All consumers receive
// every frame in registration order.
func (c *Channel) OnMessage(handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// OnDrop registers a handler invoked when an established connection is
// lost, whether abnormally or by Disconnect.
func (c *Channel) OnDrop(handler DropHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropHandlers = append(c.dropHandlers, handler)
}

// Connect idempotently establishes the connection. If a connection exists
// or an attempt is in progress this returns immediately. A failed initial
// dial starts the background reconnect loop rather than failing the
// channel; callers observe progress through the Monitor.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeTransportClosed, "channel is closed")
	}
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	c.monitor.Transition(StateConnecting)

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		log.Printf("transport: dial %s failed: %v", c.url, err)
		go c.reconnectLoop()
		return nil
	}
	c.adopt(conn)
	return nil
}

// Disconnect deliberately tears the channel down. Auto-reconnect is
// suppressed, pending queued frames are dropped, and drop handlers fire so
// in-flight requests can be rejected.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopCh)
	conn := c.conn
	c.conn = nil
	c.queued = nil
	drops := append([]DropHandler(nil), c.dropHandlers...)
	c.mu.Unlock()

	if conn != nil {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}

	err := apperrors.New(apperrors.CodeTransportClosed, "channel closed")
	for _, h := range drops {
		h(err)
	}
	c.monitor.Transition(StateDisconnected)
}

// Send transmits a frame, failing fast with transport.not_connected when no
// connection is established. The mutation engine relies on fail-fast so it
// can fall back to optimistic-only behavior instead of hanging.
func (c *Channel) Send(frame *wire.Frame) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return apperrors.New(apperrors.CodeTransportClosed, "channel is closed")
	}
	if conn == nil {
		return apperrors.NotConnected()
	}
	return c.writeFrame(conn, frame)
}

// SendQueued transmits a frame, or buffers it until the next successful
// connection when the channel is down. The queue is bounded; once full the
// oldest frame is dropped so reconnect floods stay bounded.
func (c *Channel) SendQueued(frame *wire.Frame) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.New(apperrors.CodeTransportClosed, "channel is closed")
	}
	conn := c.conn
	if conn == nil {
		if len(c.queued) >= queueLimit {
			c.queued = c.queued[1:]
			log.Printf("transport: send queue full, dropping oldest frame")
		}
		c.queued = append(c.queued, frame)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.writeFrame(conn, frame)
}

// writeFrame serializes and writes one frame with a deadline. Writes are
// serialized by the rate limiter and the connection's own write lock is
// provided by taking mu around WriteMessage.
func (c *Channel) writeFrame(conn *websocket.Conn, frame *wire.Frame) error {
	data, err := frame.Encode()
	if err != nil {
		return err
	}
	if err := c.limiter.Wait(context.Background()); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		// Connection rotated underneath us.
		return apperrors.NotConnected()
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.Wrap(apperrors.CodeTransportNotConnected, "write failed", err)
	}
	return nil
}

// adopt installs a freshly dialed connection, flushes the queue, and starts
// the read and ping pumps.
func (c *Channel) adopt(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connecting = false
	c.connGen++
	gen := c.connGen
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	c.monitor.Transition(StateConnected)
	log.Printf("transport: connected to %s", c.url)

	go c.readPump(conn, gen)
	go c.pingLoop(conn, gen)

	for _, f := range queued {
		if err := c.writeFrame(conn, f); err != nil {
			log.Printf("transport: flush queued frame: %v", err)
		}
	}
}

// readPump reads frames until the connection fails, fanning each frame out
// to all consumers in registration order.
func (c *Channel) readPump(conn *websocket.Conn, gen int) {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, gen, err)
			return
		}

		frame, err := wire.DecodeFrame(data)
		if err != nil {
			log.Printf("transport: dropping malformed frame: %v", err)
			continue
		}

		c.mu.Lock()
		handlers := append([]FrameHandler(nil), c.handlers...)
		c.mu.Unlock()
		for _, h := range handlers {
			h(frame)
		}
	}
}

// pingLoop sends keep-alive pings until the connection rotates or closes.
func (c *Channel) pingLoop(conn *websocket.Conn, gen int) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !c.writePing(conn) {
			return
		}
	}
}

// writePing sends one keep-alive ping under mu, so it never interleaves
// with a frame write. Returns false when the connection rotated, the
// channel closed, or the write failed.
func (c *Channel) writePing(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn || c.closed {
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.PingMessage, nil) == nil
}

// handleDrop reacts to an abnormal connection loss: notify drop handlers,
// surface the error state, and start reconnecting. A drop belonging to a
// stale connection generation (already replaced or deliberately closed) is
// ignored.
func (c *Channel) handleDrop(conn *websocket.Conn, gen int, cause error) {
	c.mu.Lock()
	if c.closed || c.conn != conn || c.connGen != gen {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	drops := append([]DropHandler(nil), c.dropHandlers...)
	c.mu.Unlock()

	conn.Close()
	log.Printf("transport: connection lost: %v", cause)

	err := apperrors.Wrap(apperrors.CodeTransportNotConnected, "connection lost", cause)
	for _, h := range drops {
		h(err)
	}

	// Abnormal close routes through error before reconnecting.
	c.monitor.Transition(StateError)
	go c.reconnectLoop()
}

// reconnectLoop redials with capped exponential backoff until it succeeds
// or the channel is deliberately closed.
func (c *Channel) reconnectLoop() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.mu.Unlock()

	c.monitor.Transition(StateConnecting)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = reconnectInitialDelay
	policy.MaxInterval = reconnectMaxDelay
	policy.MaxElapsedTime = 0 // retry until Disconnect

	attempt := 0
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err == nil {
			c.adopt(conn)
			return
		}

		attempt++
		delay := policy.NextBackOff()
		log.Printf("transport: reconnect attempt %d failed: %v (next in %s)", attempt, err, delay)
		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}
	}
}
