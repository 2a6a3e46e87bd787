package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/wsrelay/internal/core/delivery"
)

var _ delivery.Transport = (*Conn)(nil)

// Conn adapts a gorilla websocket connection to delivery.Transport. Frames
// are written as text messages. Send and Receive may run concurrently; writes
// are serialized internally.
type Conn struct {
	id           string
	conn         *websocket.Conn
	config       Config
	connectedAt  time.Time
	lastActivity atomic.Int64
	closed       atomic.Bool

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Stats is a snapshot of a connection's traffic counters.
type Stats struct {
	ConnectedAt      time.Time
	LastActivity     time.Time
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// NewConn wraps an established connection, e.g. one returned by an Upgrader.
func NewConn(conn *websocket.Conn, config Config) *Conn {
	now := time.Now()
	c := &Conn{
		id:          uuid.NewString(),
		conn:        conn,
		config:      config,
		connectedAt: now,
	}
	c.lastActivity.Store(now.UnixNano())
	if config.MaxMessageSize > 0 {
		conn.SetReadLimit(config.MaxMessageSize)
	}
	return c
}

// Dial opens a client connection to url.
func Dial(ctx context.Context, url string, config Config, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: config.HandshakeTimeout,
		ReadBufferSize:   config.ReadBufferSize,
		WriteBufferSize:  config.WriteBufferSize,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(ErrHandshakeFailed, "dial %s: status %d: %v", url, resp.StatusCode, err)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	return NewConn(conn, config), nil
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one text frame. The write deadline is the earlier of ctx's
// deadline and WriteTimeout.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(c.writeDeadline(ctx))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return errors.Wrap(err, "failed to write message")
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(uint64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

// Receive blocks for the next data frame. Cancelling ctx interrupts the read
// by expiring the read deadline, which leaves the connection unusable.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}

	if c.config.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if c.closed.Load() {
			return nil, ErrConnectionClosed
		}
		if errors.Is(err, websocket.ErrReadLimit) {
			return nil, errors.Wrap(ErrMessageTooLarge, err.Error())
		}
		return nil, errors.Wrap(err, "failed to read message")
	}

	if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
		return nil, ErrUnsupportedFrame
	}

	c.messagesReceived.Add(1)
	c.bytesReceived.Add(uint64(len(data)))
	c.lastActivity.Store(time.Now().UnixNano())
	return data, nil
}

func (c *Conn) IsOpen() bool {
	return !c.closed.Load()
}

// Close sends a normal-closure frame and closes the socket. Repeated calls
// return the first result.
func (c *Conn) Close() error {
	return c.CloseWithReason("connection closed")
}

func (c *Conn) CloseWithReason(reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.writeMu.Lock()
		closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Conn) Stats() Stats {
	return Stats{
		ConnectedAt:      c.connectedAt,
		LastActivity:     c.LastActivity(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		BytesSent:        c.bytesSent.Load(),
		BytesReceived:    c.bytesReceived.Load(),
	}
}

func (c *Conn) writeDeadline(ctx context.Context) time.Time {
	var deadline time.Time
	if c.config.WriteTimeout > 0 {
		deadline = time.Now().Add(c.config.WriteTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return deadline
}
