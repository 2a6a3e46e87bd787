package delivery

import (
	"time"

	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
)

const (
	EventDropped      = "delivery.dropped"
	EventDuplicate    = "delivery.duplicate"
	EventAcknowledged = "delivery.acknowledged"
	EventAckFailed    = "delivery.ack_failed"
	EventMalformed    = "delivery.malformed"
)

const eventSource = "delivery"

// DroppedEvent is published when a message is rejected by a full pending queue.
type DroppedEvent struct {
	MessageID  string
	Type       string
	MaxPending int
}

// DuplicateEvent is published when an inbound id has already been processed.
type DuplicateEvent struct {
	ConnectionID string
	MessageID    string
	Type         string
}

// AcknowledgedEvent is published when the peer confirms an outbound message.
type AcknowledgedEvent struct {
	MessageID string
	Latency   time.Duration
}

// AckFailedEvent is published when an acknowledgment could not be sent.
type AckFailedEvent struct {
	MessageID string
	Err       error
}

// MalformedEvent is published for inbound frames that cannot be parsed.
type MalformedEvent struct {
	ConnectionID string
	Size         int
	Err          error
}

func (h *Handler) publish(eventType string, data any) {
	if h.events == nil {
		return
	}
	if err := h.events.Publish(bus.NewEvent(eventType, eventSource, data, nil)); err != nil {
		h.logger.Debug("Event handler failed", log.String("event", eventType), log.Error(err))
	}
}
