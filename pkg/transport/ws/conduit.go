// Package ws provides a websocket-backed side-channel conduit, used for
// development harnesses and for clients that receive structured events over
// a plain websocket instead of the room's data API.
package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMaxPayloadBytes = 14 * 1024
	defaultQueueSize       = 128
)

// Options configures a Conduit.
type Options struct {
	Logger          *slog.Logger
	MaxPayloadBytes int
	QueueSize       int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	ReadTimeout     time.Duration
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxPayloadBytes <= 0 {
		o.MaxPayloadBytes = defaultMaxPayloadBytes
	}
	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
}

// Conduit pumps text messages over one websocket connection: a single
// writer goroutine drains the outbound queue, a single reader goroutine
// feeds the inbound channel. It satisfies the side channel's Sender
// contract.
type Conduit struct {
	conn   *websocket.Conn
	logger *slog.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc

	outbound chan []byte
	inbound  chan []byte

	closeOnce sync.Once
}

// Dial connects a Conduit to a websocket endpoint.
func Dial(ctx context.Context, url string, opts Options) (*Conduit, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial side channel %q: %w", url, err)
	}
	return NewConduit(conn, opts), nil
}

// Upgrade adopts an incoming HTTP request as a Conduit.
func Upgrade(w http.ResponseWriter, r *http.Request, opts Options) (*Conduit, error) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade side channel: %w", err)
	}
	return NewConduit(conn, opts), nil
}

// NewConduit wraps an established connection and starts its pumps.
func NewConduit(conn *websocket.Conn, opts Options) *Conduit {
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conduit{
		conn:     conn,
		logger:   opts.Logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan []byte, opts.QueueSize),
		inbound:  make(chan []byte, opts.QueueSize),
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.ReadTimeout))
	})

	go c.writePump()
	go c.readPump()
	return c
}

// Send enqueues one message. It fails rather than blocking indefinitely
// when the peer stops draining.
func (c *Conduit) Send(ctx context.Context, payload []byte) error {
	select {
	case c.outbound <- payload:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("side channel closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MaxPayloadBytes implements the side channel Sender contract.
func (c *Conduit) MaxPayloadBytes() int {
	return c.opts.MaxPayloadBytes
}

// Inbound returns received messages. The channel closes when the
// connection ends.
func (c *Conduit) Inbound() <-chan []byte {
	return c.inbound
}

// Close tears the connection down and stops both pumps.
func (c *Conduit) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.conn.Close()
	})
	return nil
}

func (c *Conduit) writePump() {
	pingTicker := time.NewTicker(c.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-pingTicker.C:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.logger.Warn("side channel ping failed", "error", err)
				c.Close()
				return
			}
		case payload := <-c.outbound:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("side channel write failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *Conduit) readPump() {
	defer close(c.inbound)
	defer c.Close()

	c.conn.SetReadLimit(int64(c.opts.MaxPayloadBytes) + 4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("side channel read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		select {
		case c.inbound <- data:
		case <-c.ctx.Done():
			return
		}
	}
}
