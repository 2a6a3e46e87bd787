// Package client provides a WebSocket client SDK for wsrelay with
// acknowledged delivery and automatic reconnection.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/sony/gobreaker"

	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	wsconn "github.com/zeusync/wsrelay/internal/core/protocol/websocket"
	"github.com/zeusync/wsrelay/internal/core/reconnect"
)

type Option func(*Client)

func WithLogger(logger log.Log) Option {
	return func(c *Client) { c.logger = logger }
}

// WithEventBus publishes delivery and reconnection events to b.
func WithEventBus(b bus.EventBus) Option {
	return func(c *Client) { c.events = b }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// Client owns one logical connection to a relay server. Messages sent while
// the link is down are queued and flushed after the next (re)connect.
type Client struct {
	cfg    Config
	logger log.Log
	clock  clock.Clock
	events bus.EventBus

	handler     *delivery.Handler
	reconnector *reconnect.Controller
	breaker     *gobreaker.CircuitBreaker

	state     atomic.Int32
	connected atomic.Bool // set after the first successful Connect

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards conn and every wg.Add, so Close can wait for all goroutines.
	mu   sync.Mutex
	conn *wsconn.Conn

	// flushMu serializes pending-queue flushes so their frames keep FIFO order.
	flushMu sync.Mutex

	handlersMu      sync.RWMutex
	messageHandlers []MessageHandler
	eventHandlers   map[EventType][]EventHandler
}

// New creates a client in the Disconnected state. Call Connect to dial.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.Join(ErrInvalidConfig, errors.New("url cannot be empty"))
	}

	c := &Client{
		cfg:           cfg,
		logger:        log.NewNop(),
		clock:         clock.New(),
		eventHandlers: make(map[EventType][]EventHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(log.String("component", "client"), log.String("url", cfg.URL))
	c.ctx, c.cancel = context.WithCancel(context.Background())

	deliveryOpts := []delivery.Option{delivery.WithClock(c.clock)}
	reconnectOpts := []reconnect.Option{reconnect.WithClock(c.clock)}
	if c.events != nil {
		deliveryOpts = append(deliveryOpts, delivery.WithEventBus(c.events))
		reconnectOpts = append(reconnectOpts, reconnect.WithEventBus(c.events))
	}

	c.handler = delivery.NewHandler(delivery.Config{
		MaxPending: cfg.MaxPending,
		MaxUnacked: cfg.MaxUnacked,
		AckTimeout: cfg.Transport.WriteTimeout,
	}, c.logger, deliveryOpts...)
	c.handler.OnMessage(c.dispatch)
	c.handler.OnAcknowledged(c.acknowledged)

	c.reconnector = reconnect.NewController(cfg.Reconnect, c.logger, reconnectOpts...)

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 1
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reconnect",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				log.String("breaker", name),
				log.String("from", from.String()),
				log.String("to", to.String()),
			)
		},
	})

	return c, nil
}

// Connect dials the server. It fails if the client is already connected or
// closed; a failed Connect leaves the client Disconnected.
func (c *Client) Connect(ctx context.Context) error {
	if !c.transition(StateDisconnected, StateConnecting) {
		if c.State() == StateClosed {
			return ErrClientClosed
		}
		return ErrAlreadyConnected
	}

	c.logger.Info("Connecting to server")
	conn, err := c.dial(ctx)
	if err != nil {
		c.transition(StateConnecting, StateDisconnected)
		c.logger.Error("Failed to connect to server", log.Error(err))
		return err
	}
	if !c.attach(conn, StateConnecting) {
		_ = conn.Close()
		return ErrClientClosed
	}
	c.connected.Store(true)

	c.logger.Info("Connected to server", log.String("connection_id", conn.ID()))
	c.emit(EventConnected, map[string]any{
		"url":           c.cfg.URL,
		"connection_id": conn.ID(),
	}, nil)
	c.flush(conn)
	return nil
}

// Send builds a message and sends it, or queues it while the link is down.
// The returned id is the message id on the wire.
func (c *Client) Send(ctx context.Context, msgType string, payload map[string]any, ackRequired bool) (string, error) {
	return c.SendMessage(ctx, delivery.Message{Type: msgType, Payload: payload, AckRequired: ackRequired})
}

// SendMessage sends msg, keeping msg.ID when set.
func (c *Client) SendMessage(ctx context.Context, msg delivery.Message) (string, error) {
	if c.State() == StateClosed {
		return "", ErrClientClosed
	}
	if msg.Type == "" || msg.Type == delivery.TypeAck {
		return "", ErrInvalidMessage
	}

	state := c.handler.CreateMessageState(msg, msg.ID, msg.AckRequired)
	conn := c.current()

	// While a flush is paused by the unacked cap, new messages queue behind it.
	behind := conn != nil && c.handler.PendingCount() > 0

	var transport delivery.Transport
	if conn != nil && !behind {
		transport = conn
	}

	result, err := c.handler.Send(ctx, transport, state)
	if err != nil && errors.Is(err, delivery.ErrTransportSend) && conn != nil {
		// The read loop notices the closed link and starts reconnecting.
		c.logger.Warn("Send failed, dropping connection",
			log.String("message_id", state.ID),
			log.Error(err),
		)
		_ = conn.Close()
		err = nil
	}

	switch result {
	case delivery.SendSent:
		return state.ID, nil
	case delivery.SendQueued:
		if behind {
			c.flush(conn)
		} else {
			c.resume("pending messages")
		}
		return state.ID, nil
	default:
		if err != nil {
			return "", err
		}
		return state.ID, ErrMessageDropped
	}
}

// Close stops all loops, aborts a running reconnection and closes the link.
func (c *Client) Close() error {
	c.mu.Lock()
	prev := State(c.state.Swap(int32(StateClosed)))
	if prev == StateClosed {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.logger.Info("Closing client", log.String("state", prev.String()))
	c.cancel()
	c.handler.Bind(nil)

	var err error
	if conn != nil {
		err = conn.CloseWithReason("client closed")
	}
	c.wg.Wait()

	if prev == StateConnected {
		c.emit(EventDisconnected, nil, nil)
	}
	c.logger.Info("Client closed")
	return err
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

func (c *Client) PendingCount() int {
	return c.handler.PendingCount()
}

func (c *Client) UnackedCount() int {
	return c.handler.UnackedCount()
}

// ReconnectHistory returns the retained reconnection attempts, oldest first.
func (c *Client) ReconnectHistory() []reconnect.Attempt {
	return c.reconnector.History()
}

func (c *Client) current() *wsconn.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) dial(ctx context.Context) (*wsconn.Conn, error) {
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}
	return wsconn.Dial(ctx, c.cfg.URL, c.cfg.Transport, c.cfg.Header)
}

// flush sends queued messages on conn. Only a transport failure drops the
// link; a flush paused by MaxUnacked resumes from acknowledged.
func (c *Client) flush(conn *wsconn.Conn) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	if c.handler.PendingCount() == 0 {
		return
	}
	_, err := c.handler.FlushPending(c.ctx, conn)
	switch {
	case err == nil, errors.Is(err, delivery.ErrTooManyUnacked):
	case errors.Is(err, delivery.ErrTransportSend):
		c.logger.Warn("Failed to flush pending messages", log.Error(err))
		_ = conn.Close()
	default:
		c.logger.Warn("Failed to flush pending messages", log.Error(err))
	}
}

func (c *Client) acknowledged(string) {
	if c.handler.PendingCount() == 0 {
		return
	}
	if conn := c.current(); conn != nil {
		c.flush(conn)
	}
}
