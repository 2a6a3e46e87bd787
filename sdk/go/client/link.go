package client

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	wsconn "github.com/zeusync/wsrelay/internal/core/protocol/websocket"
)

// attach makes conn the active link and starts its loops, provided the
// client is still in state from.
func (c *Client) attach(conn *wsconn.Conn, from State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.transition(from, StateConnected) {
		return false
	}
	c.conn = conn
	c.handler.Bind(conn)

	c.wg.Add(1)
	go c.run(conn)
	return true
}

// run drives the read and heartbeat loops of one link. When either fails the
// other is cancelled and the link is torn down.
func (c *Client) run(conn *wsconn.Conn) {
	defer c.wg.Done()

	group, ctx := errgroup.WithContext(c.ctx)
	group.Go(func() error {
		return c.readLoop(ctx, conn)
	})
	if c.cfg.HeartbeatInterval > 0 {
		group.Go(func() error {
			return c.heartbeat(ctx, conn)
		})
	}

	c.connectionLost(conn, group.Wait())
}

func (c *Client) readLoop(ctx context.Context, conn *wsconn.Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if errors.Is(err, wsconn.ErrUnsupportedFrame) {
				continue
			}
			return err
		}
		c.handler.OnReceive(data, conn.ID())
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *wsconn.Conn) error {
	ping, err := delivery.EncodeControl(delivery.TypePing)
	if err != nil {
		return err
	}

	ticker := c.clock.Ticker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err = conn.Send(ctx, ping); err != nil {
				c.logger.Warn("Heartbeat failed", log.Error(err))
				return err
			}
		}
	}
}

func (c *Client) connectionLost(conn *wsconn.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.handler.Bind(nil)
	}
	c.mu.Unlock()
	_ = conn.Close()

	if !c.transition(StateConnected, StateReconnecting) {
		return
	}

	c.logger.Warn("Connection lost",
		log.String("connection_id", conn.ID()),
		log.Int("pending", c.handler.PendingCount()),
		log.Int("unacked", c.handler.UnackedCount()),
		log.Error(cause),
	)
	c.emit(EventDisconnected, map[string]any{"connection_id": conn.ID()}, cause)
	c.reconnect("connection lost")
}

// resume starts a reconnection episode from the Disconnected state, e.g.
// after a suspended or exhausted episode when new messages are queued.
func (c *Client) resume(reason string) {
	if !c.connected.Load() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.transition(StateDisconnected, StateReconnecting) {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnect(reason)
	}()
}

// reconnect runs one reconnection episode through the circuit breaker. The
// client must be in StateReconnecting.
func (c *Client) reconnect(reason string) {
	c.emit(EventReconnecting, map[string]any{"reason": reason}, nil)

	var conn *wsconn.Conn
	_, err := c.breaker.Execute(func() (interface{}, error) {
		ok, err := c.reconnector.StartReconnection(c.ctx, reason, func(ctx context.Context) error {
			next, err := c.dial(ctx)
			if err != nil {
				return err
			}
			conn = next
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrReconnectFailed
		}
		return nil, nil
	})

	switch {
	case err == nil:
		if !c.attach(conn, StateReconnecting) {
			_ = conn.Close()
			return
		}
		requeued := 0
		if c.cfg.ResendUnacked {
			requeued = c.handler.RequeueUnacked()
		}
		c.logger.Info("Reconnected",
			log.String("connection_id", conn.ID()),
			log.Int("attempts", c.reconnector.Attempts()),
			log.Int("requeued", requeued),
		)
		c.emit(EventReconnected, map[string]any{
			"connection_id": conn.ID(),
			"attempts":      c.reconnector.Attempts(),
			"requeued":      requeued,
		}, nil)
		c.flush(conn)

	case c.ctx.Err() != nil:
		if conn != nil {
			_ = conn.Close()
		}

	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.transition(StateReconnecting, StateDisconnected)
		c.logger.Warn("Reconnection suspended",
			log.Duration("cooldown", c.cfg.Breaker.Cooldown),
			log.Int("pending", c.handler.PendingCount()),
		)
		c.emit(EventReconnectFailed, map[string]any{"reason": reason}, ErrCircuitOpen)

	default:
		c.transition(StateReconnecting, StateDisconnected)
		dropped := c.handler.ClearPendingMessages()
		c.logger.Error("Reconnection failed", log.Int("dropped", dropped), log.Error(err))
		c.emit(EventReconnectFailed, map[string]any{
			"reason":  reason,
			"dropped": dropped,
		}, err)
	}
}
