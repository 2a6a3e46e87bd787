package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/wsrelay/internal/config"
	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	"github.com/zeusync/wsrelay/internal/core/observability/metrics"
	wsconn "github.com/zeusync/wsrelay/internal/core/protocol/websocket"
	"github.com/zeusync/wsrelay/pkg/concurrent"
)

// DefaultRoom is used when a client connects without a room parameter.
const DefaultRoom = "general"

// relayWorkers bounds the fan-out of one inbound message.
const relayWorkers = 16

// Server relays messages between the members of a room. Each connection gets
// its own delivery handler, so acknowledgments and duplicate suppression are
// tracked per hop.
type Server struct {
	cfg       config.ServerConfig
	logger    log.Log
	events    bus.EventBus
	registry  *prometheus.Registry
	collector *metrics.Collector
	upgrader  websocket.Upgrader
	connCfg   wsconn.Config

	httpServer *http.Server
	listener   net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	running atomic.Bool
	closed  atomic.Bool

	mu       sync.Mutex
	rooms    map[string]*Room
	sessions map[string]*session
	active   atomic.Int64
	wg       sync.WaitGroup
}

func NewServer(cfg config.ServerConfig, logger log.Log, events bus.EventBus, registry *prometheus.Registry) (*Server, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if events == nil {
		events = bus.New()
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	collector, err := metrics.NewCollector(registry, events)
	if err != nil {
		return nil, err
	}

	connCfg := wsconn.DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = connCfg.WriteTimeout
	}
	connCfg.WriteTimeout = cfg.WriteTimeout
	connCfg.ReadTimeout = cfg.HeartbeatTimeout
	if cfg.MaxMessageSize > 0 {
		connCfg.MaxMessageSize = cfg.MaxMessageSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		logger:    logger.With(log.String("component", "server")),
		events:    events,
		registry:  registry,
		collector: collector,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  connCfg.ReadBufferSize,
			WriteBufferSize: connCfg.WriteBufferSize,
		},
		connCfg:  connCfg,
		ctx:      ctx,
		cancel:   cancel,
		rooms:    make(map[string]*Room),
		sessions: make(map[string]*session),
	}

	if err = collector.TrackGauge("connections_active", "Open relay connections.", func() float64 {
		return float64(s.active.Load())
	}); err != nil {
		collector.Close()
		return nil, err
	}
	if err = collector.TrackGauge("rooms_active", "Rooms with at least one member.", func() float64 {
		return float64(s.RoomCount())
	}); err != nil {
		collector.Close()
		return nil, err
	}

	return s, nil
}

// Handler returns the HTTP routes: /ws, /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(_ context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}

	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.String("addr", s.cfg.Addr), log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", log.Error(err))
		}
	}()

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop refuses new connections, closes every session and waits for their
// loops to finish or ctx to expire. The server cannot be restarted.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	s.logger.Info("Stopping server")

	var err error
	if s.running.Load() {
		err = s.httpServer.Shutdown(ctx)
	}

	s.cancel()
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	_ = concurrent.Each(ctx, sessions, relayWorkers, func(_ context.Context, sess *session) error {
		_ = sess.conn.CloseWithReason("server shutting down")
		return nil
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}

	s.collector.Close()
	s.running.Store(false)
	s.logger.Info("Server stopped", log.Int("closed_sessions", len(sessions)))
	return err
}

// ConnectionCount returns the number of open sessions.
func (s *Server) ConnectionCount() int {
	return int(s.active.Load())
}

func (s *Server) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms)
}

// RoomSize returns the member count of room, zero if it does not exist.
func (s *Server) RoomSize(room string) int {
	s.mu.Lock()
	r, ok := s.rooms[room]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return r.Len()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.closed.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// join registers sess with the server and its room. It fails once Stop has
// begun, so Stop sees every session it has to close.
func (s *Server) join(roomName string, sess *session) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrServerClosed
	}

	room, exists := s.rooms[roomName]
	if !exists {
		room = newRoom(roomName)
		s.rooms[roomName] = room
	}
	room.add(sess)
	sess.room = room
	s.sessions[sess.id] = sess
	s.active.Add(1)
	s.wg.Add(1)
	return room, nil
}

func (s *Server) leave(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	delete(s.sessions, sess.id)
	s.active.Add(-1)
	s.wg.Done()

	if sess.room.remove(sess) == 0 {
		delete(s.rooms, sess.room.Name())
	}
}
