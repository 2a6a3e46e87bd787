package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	wsconn "github.com/zeusync/wsrelay/internal/core/protocol/websocket"
	"github.com/zeusync/wsrelay/pkg/concurrent"
)

// Room is a named set of sessions that see each other's messages.
type Room struct {
	name    string
	mu      sync.RWMutex
	members map[string]*session
}

func newRoom(name string) *Room {
	return &Room{
		name:    name,
		members: make(map[string]*session),
	}
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *Room) add(s *session) {
	r.mu.Lock()
	r.members[s.id] = s
	r.mu.Unlock()
}

// remove returns the number of members left.
func (r *Room) remove(s *session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, s.id)
	return len(r.members)
}

func (r *Room) others(except *session) []*session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*session, 0, len(r.members))
	for id, member := range r.members {
		if id != except.id {
			out = append(out, member)
		}
	}
	return out
}

// session is the server side of one client connection.
type session struct {
	id      string
	room    *Room
	conn    *wsconn.Conn
	handler *delivery.Handler
	limiter *rate.Limiter
	logger  log.Log
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.closed.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	roomName := r.URL.Query().Get("room")
	if roomName == "" {
		roomName = DefaultRoom
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		s.logger.Warn("WebSocket upgrade failed",
			log.String("remote_addr", r.RemoteAddr),
			log.Error(err),
		)
		return
	}

	conn := wsconn.NewConn(raw, s.connCfg)
	sess := s.newSession(conn, roomName)
	if _, err = s.join(roomName, sess); err != nil {
		_ = conn.CloseWithReason("server shutting down")
		return
	}

	sess.logger.Info("Client connected",
		log.String("remote_addr", conn.RemoteAddr().String()),
		log.Int("room_size", sess.room.Len()),
	)
	s.serve(sess)
}

func (s *Server) newSession(conn *wsconn.Conn, roomName string) *session {
	sess := &session{
		id:   conn.ID(),
		conn: conn,
		logger: s.logger.With(
			log.String("connection_id", conn.ID()),
			log.String("room", roomName),
		),
	}

	sess.handler = delivery.NewHandler(delivery.Config{
		MaxPending: s.cfg.MaxPending,
		MaxUnacked: s.cfg.MaxUnacked,
		AckTimeout: s.cfg.WriteTimeout,
		AutoPong:   true,
	}, sess.logger, delivery.WithEventBus(s.events))
	sess.handler.Bind(conn)
	sess.handler.OnMessage(func(_ string, msg delivery.Message) {
		s.relay(sess, msg)
	})

	if s.cfg.RateLimit.PerSecond > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit.PerSecond), s.cfg.RateLimit.Burst)
	}
	return sess
}

// serve runs the read loop of sess until the connection fails or the server stops.
func (s *Server) serve(sess *session) {
	defer func() {
		s.leave(sess)
		_ = sess.conn.Close()
		stats := sess.conn.Stats()
		sess.logger.Info("Client disconnected",
			log.Uint64("messages_received", stats.MessagesReceived),
			log.Uint64("messages_sent", stats.MessagesSent),
			log.Int("unacked", sess.handler.UnackedCount()),
		)
	}()

	for {
		data, err := sess.conn.Receive(s.ctx)
		if err != nil {
			if errors.Is(err, wsconn.ErrUnsupportedFrame) {
				continue
			}
			if !wsconn.IsClosed(err) && !errors.Is(err, context.Canceled) {
				sess.logger.Debug("Read loop stopped", log.Error(err))
			}
			return
		}

		if sess.limiter != nil && !sess.limiter.Allow() {
			sess.logger.Warn("Rate limit exceeded, dropping message", log.Int("size", len(data)))
			continue
		}
		sess.handler.OnReceive(data, sess.id)
	}
}

// relay forwards msg to every other member of the sender's room under
// relayID; ack_required is kept.
func (s *Server) relay(from *session, msg delivery.Message) {
	peers := from.room.others(from)
	if len(peers) == 0 {
		return
	}

	id := relayID(from, msg)
	err := concurrent.EachAll(peers, relayWorkers, func(peer *session) error {
		state := peer.handler.CreateMessageState(msg, id, msg.AckRequired)

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.WriteTimeout)
		defer cancel()

		if _, err := peer.handler.ExecuteSend(ctx, peer.conn, state); err != nil {
			if errors.Is(err, delivery.ErrTransportSend) {
				_ = peer.conn.CloseWithReason("write failed")
			}
			return err
		}
		return nil
	})
	if err != nil {
		from.logger.Warn("Relay incomplete",
			log.String("message_id", msg.ID),
			log.String("type", msg.Type),
			log.Int("peers", len(peers)),
			log.Error(err),
		)
		return
	}

	from.logger.Debug("Message relayed",
		log.String("message_id", msg.ID),
		log.String("relay_id", id),
		log.String("type", msg.Type),
		log.Int("peers", len(peers)),
	)
}

// relayID derives the id recipients see from the sender's id, scoped by room,
// so a message resent after a reconnect reaches members under the same id and
// their duplicate filters drop it. Messages without an id get a random one.
func relayID(from *session, msg delivery.Message) string {
	if msg.ID == "" {
		return from.handler.GenerateMessageID()
	}
	return from.room.Name() + "/" + msg.ID
}
