package client

import (
	"time"

	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
)

// MessageHandler receives every inbound application message.
type MessageHandler func(msg delivery.Message) error

// EventHandler defines a function type for handling client events
type EventHandler func(event Event) error

// EventType represents different types of client events
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventReconnecting    EventType = "reconnecting"
	EventReconnected     EventType = "reconnected"
	EventReconnectFailed EventType = "reconnect_failed"
)

// Event represents a client event
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
	Error     error
}

// OnMessage registers a handler for inbound messages. Handlers run on the
// read loop in registration order.
func (c *Client) OnMessage(handler MessageHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.messageHandlers = append(c.messageHandlers, handler)
}

// OnEvent registers a handler for lifecycle events of the given type.
func (c *Client) OnEvent(eventType EventType, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], handler)
}

func (c *Client) dispatch(_ string, msg delivery.Message) {
	c.handlersMu.RLock()
	handlers := c.messageHandlers
	c.handlersMu.RUnlock()

	for _, handler := range handlers {
		if err := handler(msg); err != nil {
			c.logger.Error("Message handler error",
				log.String("message_id", msg.ID),
				log.String("type", msg.Type),
				log.Error(err),
			)
		}
	}
}

func (c *Client) emit(eventType EventType, data map[string]any, err error) {
	c.handlersMu.RLock()
	handlers := c.eventHandlers[eventType]
	c.handlersMu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: c.clock.Now(),
		Data:      data,
		Error:     err,
	}
	for _, handler := range handlers {
		if herr := handler(event); herr != nil {
			c.logger.Error("Event handler error", log.String("event", string(eventType)), log.Error(herr))
		}
	}
}
