package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/AgilWave/examina-proctor/internal/dns"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	handshakeWait  = 10 * time.Second
	sendQueueSize  = 256
)

var (
	ErrClientClosed = errors.New("signaling client closed")
	ErrHandshake    = errors.New("signaling handshake failed")
)

// Client manages the WebSocket connection to the signaling relay. One client
// is shared by every room session in the process and outlives them.
type Client struct {
	serverURL string
	codec     Codec
	dialer    *websocket.Dialer
	log       *slog.Logger

	conn     *websocket.Conn
	id       string
	outgoing chan []byte
	done     chan struct{}
	finished chan struct{}

	mu      sync.Mutex
	subs    map[uint64]func(Event)
	nextSub uint64
	started bool
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithDialer replaces the DNS-fallback dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a new signaling client
func NewClient(serverURL string, codec Codec, opts ...Option) *Client {
	dialer := *websocket.DefaultDialer
	dialer.NetDialContext = dns.DialContext

	c := &Client{
		serverURL: serverURL,
		codec:     codec,
		dialer:    &dialer,
		log:       slog.Default(),
		outgoing:  make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		subs:      make(map[uint64]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay and waits for it to assign this connection an id.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("signaling client already connected")
	}
	c.started = true
	c.mu.Unlock()

	u, err := url.Parse(c.serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}

	q := u.Query()
	q.Set("codec", c.codec.Name())
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	conn.SetReadLimit(maxMessageSize)

	deadline := time.Now().Add(handshakeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)

	_, data, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	ev, err := c.codec.Decode(data)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	hello, ok := ev.(Connected)
	if !ok {
		conn.Close()
		return fmt.Errorf("%w: expected %s, got %s", ErrHandshake, TypeConnected, ev.Type())
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return ErrClientClosed
	}
	c.conn = conn
	c.id = hello.ID
	c.mu.Unlock()

	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.readPump()
	go c.writePump()

	c.log.Debug("signaling connected", "server", c.serverURL, "id", c.id, "codec", c.codec.Name())
	return nil
}

// ID returns the relay-assigned id of this connection.
func (c *Client) ID() string {
	return c.id
}

// Subscribe registers fn for every valid inbound event. Handlers run on the
// read goroutine and must not block. The returned func removes exactly this
// registration.
func (c *Client) Subscribe(fn func(Event)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers returns the number of registered handlers.
func (c *Client) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Send queues ev for delivery. Delivery is not acknowledged.
func (c *Client) Send(ev Event) error {
	data, err := c.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type(), err)
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClientClosed
	}

	select {
	case c.outgoing <- data:
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-c.finished:
		return ErrClientClosed
	}
}

// Done is closed once the connection to the relay is gone.
func (c *Client) Done() <-chan struct{} {
	return c.finished
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.conn.Close()
		close(c.finished)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("signaling read failed", "error", err)
			}
			return
		}

		ev, err := c.codec.Decode(data)
		if err != nil {
			c.log.Debug("dropping invalid signaling frame", "error", err)
			continue
		}
		if r, ok := ev.(Routed); ok && r.Origin() == "" {
			c.log.Debug("dropping unattributed signaling frame", "type", ev.Type())
			continue
		}

		c.dispatch(ev)
	}
}

func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// writePump writes messages to the WebSocket connection and sends periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frameType := c.codec.FrameType()

	for {
		select {
		case message := <-c.outgoing:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(frameType, message); err != nil {
				c.log.Warn("signaling write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// Close closes the WebSocket connection and cleans up resources.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.conn != nil
	c.mu.Unlock()

	close(c.done)
	if !started {
		close(c.finished)
	}
}
