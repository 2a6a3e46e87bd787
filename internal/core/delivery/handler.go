package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
)

// Config bounds the per-connection delivery state.
type Config struct {
	// MaxPending caps the pending queue used by Send and RequeueUnacked.
	MaxPending int
	// MaxUnacked rejects new ack-required sends once this many are outstanding. Zero disables the cap.
	MaxUnacked int
	// DedupCapacity is the high-water mark of the duplicate filter.
	DedupCapacity int
	// AckTimeout bounds each automatic acknowledgment write.
	AckTimeout time.Duration
	// AutoPong answers inbound ping frames on the bound transport instead of forwarding them.
	AutoPong bool
}

func DefaultConfig() Config {
	return Config{
		MaxPending:    1000,
		DedupCapacity: DefaultDedupCapacity,
		AckTimeout:    5 * time.Second,
	}
}

type Option func(*Handler)

// WithClock replaces the wall clock used for timestamps.
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithEventBus publishes delivery events to b.
func WithEventBus(b bus.EventBus) Option {
	return func(h *Handler) { h.events = b }
}

// Handler tracks the delivery state of one connection: the pending queue,
// the acknowledgment table and the duplicate filter. All methods are safe for
// concurrent use; the internal lock is never held during transport I/O or
// while the message callback runs.
type Handler struct {
	cfg    Config
	logger log.Log
	clock  clock.Clock
	events bus.EventBus

	mu        sync.Mutex
	pending   *pendingQueue
	acks      *ackTable
	seen      *duplicateFilter
	transport Transport
	callback  MessageCallback
	onAck     AckCallback
}

func NewHandler(cfg Config, logger log.Log, opts ...Option) *Handler {
	defaults := DefaultConfig()
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = defaults.MaxPending
	}
	if cfg.DedupCapacity <= 0 {
		cfg.DedupCapacity = defaults.DedupCapacity
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = defaults.AckTimeout
	}
	if logger == nil {
		logger = log.NewNop()
	}

	h := &Handler{
		cfg:     cfg,
		logger:  logger.With(log.String("subsystem", "delivery")),
		clock:   clock.New(),
		pending: newPendingQueue(min(cfg.MaxPending, 1024)),
		acks:    newAckTable(),
		seen:    newDuplicateFilter(cfg.DedupCapacity),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Bind sets the transport used for automatic acknowledgments and pongs. A nil
// transport unbinds.
func (h *Handler) Bind(t Transport) {
	h.mu.Lock()
	h.transport = t
	h.mu.Unlock()
}

// OnMessage registers the application callback. A nil callback absorbs messages.
func (h *Handler) OnMessage(cb MessageCallback) {
	h.mu.Lock()
	h.callback = cb
	h.mu.Unlock()
}

// OnAcknowledged registers cb to run after each matched acknowledgment, e.g.
// to resume a flush paused by MaxUnacked.
func (h *Handler) OnAcknowledged(cb AckCallback) {
	h.mu.Lock()
	h.onAck = cb
	h.mu.Unlock()
}

// GenerateMessageID returns a random UUIDv4 string.
func (h *Handler) GenerateMessageID() string {
	return uuid.NewString()
}

// CreateMessageState wraps msg for lifecycle tracking. An empty id falls back
// to msg.ID and then to a generated one.
func (h *Handler) CreateMessageState(msg Message, id string, ackRequired bool) *MessageState {
	if id == "" {
		id = msg.ID
	}
	if id == "" {
		id = h.GenerateMessageID()
	}

	content := msg.Clone()
	content.ID = id
	content.AckRequired = ackRequired

	return &MessageState{
		ID:          id,
		Content:     content,
		CreatedAt:   h.clock.Now(),
		AckRequired: ackRequired,
	}
}

// QueuePendingMessage appends state when fewer than maxPending states are
// waiting and drops it otherwise. It always returns false: the message was
// not sent.
func (h *Handler) QueuePendingMessage(state *MessageState, maxPending int) bool {
	h.enqueue(state, maxPending)
	return false
}

func (h *Handler) enqueue(state *MessageState, maxPending int) bool {
	if state == nil {
		return false
	}

	h.mu.Lock()
	if h.pending.Len() < maxPending {
		h.pending.Push(state)
		h.mu.Unlock()
		return true
	}
	h.mu.Unlock()

	h.dropped(state, maxPending)
	return false
}

func (h *Handler) dropped(state *MessageState, maxPending int) {
	h.logger.Warn("Pending queue full, dropping message",
		log.String("message_id", state.ID),
		log.String("type", state.Content.Type),
		log.Int("max_pending", maxPending),
	)
	h.publish(EventDropped, DroppedEvent{MessageID: state.ID, Type: state.Content.Type, MaxPending: maxPending})
}

// ExecuteSend serializes state and writes it to t. Ack-required states are
// registered in the acknowledgment table before the write so an ack racing
// the write's return is still matched; they are unregistered if the write fails.
func (h *Handler) ExecuteSend(ctx context.Context, t Transport, state *MessageState) (bool, error) {
	if state == nil {
		return false, ErrNilState
	}

	data, err := Encode(wireMessage(state))
	if err != nil {
		return false, fmt.Errorf("message %s: %w", state.ID, err)
	}

	if t == nil {
		return false, fmt.Errorf("%w: %w", ErrTransportSend, ErrTransportClosed)
	}

	if state.AckRequired {
		h.mu.Lock()
		if h.cfg.MaxUnacked > 0 && h.acks.Len() >= h.cfg.MaxUnacked && !h.acks.Has(state.ID) {
			outstanding := h.acks.Len()
			h.mu.Unlock()
			h.logger.Warn("Too many unacknowledged messages",
				log.String("message_id", state.ID),
				log.Int("outstanding", outstanding),
			)
			return false, ErrTooManyUnacked
		}
		h.acks.Put(state)
		h.mu.Unlock()
	}

	if err = t.Send(ctx, data); err != nil {
		if state.AckRequired {
			h.mu.Lock()
			h.acks.Remove(state.ID, state)
			h.mu.Unlock()
		}
		return false, fmt.Errorf("%w: %w", ErrTransportSend, err)
	}

	return true, nil
}

// Send writes state to t, or queues it when t is missing, closed or fails
// mid-write. A transport failure is still returned so the owner can start
// reconnecting.
func (h *Handler) Send(ctx context.Context, t Transport, state *MessageState) (SendResult, error) {
	if state == nil {
		return SendDropped, ErrNilState
	}

	if t == nil || !t.IsOpen() {
		if h.enqueue(state, h.cfg.MaxPending) {
			return SendQueued, nil
		}
		return SendDropped, nil
	}

	if _, err := h.ExecuteSend(ctx, t, state); err != nil {
		if !errors.Is(err, ErrTransportSend) {
			return SendDropped, err
		}
		if h.enqueue(state, h.cfg.MaxPending) {
			return SendQueued, err
		}
		return SendDropped, err
	}
	return SendSent, nil
}

// FlushPending drains the pending queue in FIFO order. On a transport
// failure the failed state and everything behind it go back to the front of
// the queue, preserving order. Reaching MaxUnacked pauses the flush the same
// way and returns ErrTooManyUnacked; the link is still usable. States that
// cannot be serialized are dropped.
func (h *Handler) FlushPending(ctx context.Context, t Transport) (int, error) {
	h.mu.Lock()
	items := h.pending.DrainAll()
	h.mu.Unlock()

	sent := 0
	for i, state := range items {
		_, err := h.ExecuteSend(ctx, t, state)
		if err == nil {
			sent++
			continue
		}
		if errors.Is(err, ErrSerializationFailed) {
			h.logger.Error("Dropping unserializable pending message",
				log.String("message_id", state.ID),
				log.Error(err),
			)
			continue
		}

		h.restore(items[i:])
		if errors.Is(err, ErrTooManyUnacked) {
			h.logger.Debug("Flush paused until acknowledgments arrive",
				log.Int("sent", sent),
				log.Int("remaining", len(items)-i),
			)
			return sent, err
		}
		h.logger.Warn("Flush of pending messages interrupted",
			log.Int("sent", sent),
			log.Int("remaining", len(items)-i),
			log.Error(err),
		)
		return sent, err
	}

	if sent > 0 {
		h.logger.Info("Flushed pending messages", log.Int("sent", sent))
	}
	return sent, nil
}

// restore puts states back at the front of the queue. Newer states that no
// longer fit are dropped.
func (h *Handler) restore(states []*MessageState) {
	h.mu.Lock()
	h.pending.PushFront(states...)
	dropped := h.pending.TrimTo(h.cfg.MaxPending)
	h.mu.Unlock()

	for _, state := range dropped {
		h.dropped(state, h.cfg.MaxPending)
	}
}

// RequeueUnacked moves every unacknowledged state back to the front of the
// pending queue, oldest first, and bumps its RetryCount. It returns the number
// of states moved.
func (h *Handler) RequeueUnacked() int {
	h.mu.Lock()
	states := h.acks.TakeAll()
	h.mu.Unlock()

	if len(states) == 0 {
		return 0
	}
	for _, state := range states {
		state.RetryCount++
	}
	h.restore(states)

	h.logger.Info("Requeued unacknowledged messages", log.Int("count", len(states)))
	return len(states)
}

// ExpiredUnacked returns copies of the states that have been waiting for an
// acknowledgment longer than olderThan, oldest first.
func (h *Handler) ExpiredUnacked(olderThan time.Duration) []*MessageState {
	cutoff := h.clock.Now().Add(-olderThan)

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acks.OlderThan(cutoff)
}

// OnReceive processes one inbound frame from connectionID.
func (h *Handler) OnReceive(raw []byte, connectionID string) {
	msg, err := Decode(raw)
	if err != nil {
		h.logger.Warn("Dropping malformed message",
			log.String("connection_id", connectionID),
			log.Int("size", len(raw)),
			log.Error(err),
		)
		h.publish(EventMalformed, MalformedEvent{ConnectionID: connectionID, Size: len(raw), Err: err})
		return
	}

	if msg.Type == TypeAck && msg.ID != "" {
		h.HandleAcknowledgment(msg.ID)
		return
	}
	if msg.Type == TypePong {
		return
	}

	h.mu.Lock()
	t := h.transport
	cb := h.callback
	duplicate := false
	if msg.ID != "" {
		duplicate = h.seen.Contains(msg.ID)
		if !duplicate {
			if evicted := h.seen.Add(msg.ID); evicted > 0 {
				h.logger.Debug("Compacted duplicate filter", log.Int("evicted", evicted))
			}
		}
	}
	h.mu.Unlock()

	if duplicate {
		h.logger.Debug("Duplicate message ignored",
			log.String("connection_id", connectionID),
			log.String("message_id", msg.ID),
			log.String("type", msg.Type),
		)
		h.publish(EventDuplicate, DuplicateEvent{ConnectionID: connectionID, MessageID: msg.ID, Type: msg.Type})
		// The peer is retransmitting, so our previous ack was likely lost.
		if msg.AckRequired && t != nil {
			h.ackWithTimeout(t, msg.ID)
		}
		return
	}

	if msg.Type == TypePing && h.cfg.AutoPong {
		if t != nil {
			h.pong(t, connectionID)
		}
		return
	}

	if msg.AckRequired && msg.ID != "" && t != nil {
		h.ackWithTimeout(t, msg.ID)
	}

	if cb != nil {
		cb(connectionID, msg)
	}
}

// HandleAcknowledgment marks id as acknowledged and forgets it. Unknown ids
// (late or repeated acks) are ignored.
func (h *Handler) HandleAcknowledgment(id string) {
	h.mu.Lock()
	state, ok := h.acks.Acknowledge(id)
	cb := h.onAck
	h.mu.Unlock()

	if !ok {
		h.logger.Debug("Ignoring acknowledgment for unknown message", log.String("message_id", id))
		return
	}

	latency := h.clock.Since(state.CreatedAt)
	h.logger.Debug("Message acknowledged",
		log.String("message_id", id),
		log.Duration("latency", latency),
	)
	h.publish(EventAcknowledged, AcknowledgedEvent{MessageID: id, Latency: latency})

	if cb != nil {
		cb(id)
	}
}

// SendAcknowledgment writes an ack frame for id. Failures are logged and
// swallowed: the inbound message has already been accepted.
func (h *Handler) SendAcknowledgment(ctx context.Context, t Transport, id string) {
	if t == nil {
		h.ackFailed(id, ErrTransportClosed)
		return
	}

	data, err := EncodeAck(id, h.clock.Now())
	if err == nil {
		err = t.Send(ctx, data)
	}
	if err != nil {
		h.ackFailed(id, err)
		return
	}
	h.logger.Debug("Acknowledgment sent", log.String("message_id", id))
}

func (h *Handler) ackFailed(id string, err error) {
	h.logger.Warn("Failed to send acknowledgment", log.String("message_id", id), log.Error(err))
	h.publish(EventAckFailed, AckFailedEvent{MessageID: id, Err: err})
}

func (h *Handler) ackWithTimeout(t Transport, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AckTimeout)
	defer cancel()
	h.SendAcknowledgment(ctx, t, id)
}

func (h *Handler) pong(t Transport, connectionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.AckTimeout)
	defer cancel()

	data, err := EncodeControl(TypePong)
	if err == nil {
		err = t.Send(ctx, data)
	}
	if err != nil {
		h.logger.Warn("Failed to answer ping", log.String("connection_id", connectionID), log.Error(err))
	}
}

func (h *Handler) PendingCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending.Len()
}

func (h *Handler) UnackedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.acks.Len()
}

// SeenCount reports how many inbound ids the duplicate filter currently holds.
func (h *Handler) SeenCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen.Len()
}

// ClearPendingMessages empties the pending queue and returns how many states it held.
func (h *Handler) ClearPendingMessages() int {
	h.mu.Lock()
	n := h.pending.Clear()
	h.mu.Unlock()

	if n > 0 {
		h.logger.Info("Cleared pending messages", log.Int("count", n))
	}
	return n
}

// PendingMessages returns copies of the queued states in FIFO order.
func (h *Handler) PendingMessages() []*MessageState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending.Snapshot()
}

func wireMessage(state *MessageState) Message {
	msg := state.Content
	msg.ID = state.ID
	msg.AckRequired = state.AckRequired
	return msg
}
