package bus

import "time"

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// EventBus is a thread-safe, in-process pub/sub bus.
//
// Handlers subscribe by Event.Type() or by Wildcard. Publish calls handlers in
// the caller goroutine and joins their errors. Handlers should be quick or
// offload heavy work to avoid blocking publishers.
type EventBus interface {
	// Publish delivers the event synchronously to all subscribers of event.Type()
	// and to wildcard subscribers.
	Publish(event Event) error
	// Subscribe registers a handler for a specific event type, or Wildcard.
	Subscribe(eventType string, handler EventHandler) (Subscription, error)
	// Unsubscribe cancels the given Subscription. It is safe to call with nil.
	Unsubscribe(Subscription) error

	AddObserver(obs EventBusObserver)
	RemoveObserver(obs EventBusObserver)
	// GetMetrics returns a snapshot of counters. Counters are only updated while
	// at least one observer is registered.
	GetMetrics() EventBusMetrics
}

// Event is an immutable notification transported by the EventBus.
type Event interface {
	Type() string
	Source() string
	Timestamp() time.Time
	Data() any
	Metadata() map[string]any
}

type (
	// EventHandler is invoked per delivered event.
	EventHandler func(event Event) error
)

// Subscription represents a registered handler bound to an event type.
type Subscription interface {
	ID() string
	EventType() string
	IsActive() bool
	// Cancel de-registers the handler. Multiple calls are safe.
	Cancel() error
}

// EventBusObserver is notified about deliveries and errors.
type EventBusObserver interface {
	OnPublish(eventType string, event Event)
	OnDelivered(eventType string, handlers int, err error, duration time.Duration)
}

type EventBusMetrics struct {
	Published         uint64
	DeliveredHandlers uint64
	Errors            uint64
	SubscribersActive uint64
}
