package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/reconnect"
)

const namespace = "wsrelay"

// Collector turns delivery and reconnection events into Prometheus metrics.
// It also observes the event bus itself.
type Collector struct {
	reg    prometheus.Registerer
	events bus.EventBus

	dropped           prometheus.Counter
	duplicates        prometheus.Counter
	acks              prometheus.Counter
	ackFailures       prometheus.Counter
	malformed         prometheus.Counter
	reconnects        *prometheus.CounterVec
	attemptDuration   prometheus.Histogram
	episodesExhausted prometheus.Counter

	published     *prometheus.CounterVec
	handlerErrors *prometheus.CounterVec
	dispatch      prometheus.Histogram
	subscribers   prometheus.GaugeFunc

	subs []bus.Subscription
}

// NewCollector registers the relay metrics on reg and subscribes them to events.
func NewCollector(reg prometheus.Registerer, events bus.EventBus) (*Collector, error) {
	c := &Collector{
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped because the pending queue was full.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicates_total",
			Help:      "Inbound messages suppressed as duplicates.",
		}),
		acks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_total",
			Help:      "Outbound messages acknowledged by the peer.",
		}),
		ackFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ack_failures_total",
			Help:      "Acknowledgments that could not be sent.",
		}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_total",
			Help:      "Inbound frames that could not be parsed.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnection attempts by result.",
		}, []string{"result"}),
		attemptDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_attempt_duration_seconds",
			Help:      "Duration of individual reconnection attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		episodesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Reconnection episodes that used up their attempt budget.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the internal bus by type.",
		}, []string{"type"}),
		handlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_errors_total",
			Help:      "Bus deliveries where at least one handler failed, by type.",
		}, []string{"type"}),
		dispatch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_dispatch_duration_seconds",
			Help:      "Time spent delivering one event to its handlers.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
		subscribers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers_active",
			Help:      "Handlers subscribed to the internal bus.",
		}, func() float64 {
			return float64(events.GetMetrics().SubscribersActive)
		}),
	}

	c.reg = reg
	c.events = events

	for _, col := range []prometheus.Collector{
		c.dropped, c.duplicates, c.acks, c.ackFailures, c.malformed,
		c.reconnects, c.attemptDuration, c.episodesExhausted,
		c.published, c.handlerErrors, c.dispatch, c.subscribers,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}

	handlers := map[string]bus.EventHandler{
		delivery.EventDropped:      c.inc(c.dropped),
		delivery.EventDuplicate:    c.inc(c.duplicates),
		delivery.EventAcknowledged: c.inc(c.acks),
		delivery.EventAckFailed:    c.inc(c.ackFailures),
		delivery.EventMalformed:    c.inc(c.malformed),
		reconnect.EventAttempt:     c.onAttempt,
		reconnect.EventExhausted:   c.inc(c.episodesExhausted),
	}
	for eventType, handler := range handlers {
		sub, err := events.Subscribe(eventType, handler)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.subs = append(c.subs, sub)
	}
	events.AddObserver(c)

	return c, nil
}

// OnPublish implements bus.EventBusObserver.
func (c *Collector) OnPublish(eventType string, _ bus.Event) {
	c.published.WithLabelValues(eventType).Inc()
}

// OnDelivered implements bus.EventBusObserver.
func (c *Collector) OnDelivered(eventType string, _ int, err error, duration time.Duration) {
	if err != nil {
		c.handlerErrors.WithLabelValues(eventType).Inc()
	}
	c.dispatch.Observe(duration.Seconds())
}

// TrackGauge exposes fn as a gauge, e.g. the number of open connections.
func (c *Collector) TrackGauge(name, help string, fn func() float64) error {
	return c.reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Close unsubscribes the collector from the event bus. Registered metrics stay.
func (c *Collector) Close() {
	c.events.RemoveObserver(c)
	for _, sub := range c.subs {
		_ = sub.Cancel()
	}
	c.subs = nil
}

func (c *Collector) inc(counter prometheus.Counter) bus.EventHandler {
	return func(bus.Event) error {
		counter.Inc()
		return nil
	}
}

func (c *Collector) onAttempt(e bus.Event) error {
	attempt, ok := e.Data().(reconnect.Attempt)
	if !ok {
		return errors.New("metrics: unexpected reconnect.attempt payload")
	}
	result := "failure"
	if attempt.Success {
		result = "success"
	}
	c.reconnects.WithLabelValues(result).Inc()
	c.attemptDuration.Observe(attempt.Duration.Seconds())
	return nil
}
