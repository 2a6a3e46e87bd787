package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/wsrelay/internal/core/delivery"
	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	"github.com/zeusync/wsrelay/internal/core/reconnect"
)

func TestCollector_CountsDeliveryEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	events := bus.New()
	c, err := NewCollector(reg, events)
	require.NoError(t, err)
	defer c.Close()

	h := delivery.NewHandler(delivery.DefaultConfig(), log.NewNop(), delivery.WithEventBus(events))
	h.QueuePendingMessage(h.CreateMessageState(delivery.Message{Type: "t"}, "a", false), 0)
	h.OnReceive([]byte(`{"type":"t","id":"x"}`), "c")
	h.OnReceive([]byte(`{"type":"t","id":"x"}`), "c")
	h.OnReceive([]byte(`not json`), "c")
	h.SendAcknowledgment(context.Background(), nil, "x")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.duplicates))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.malformed))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ackFailures))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.acks))
}

func TestCollector_CountsReconnectAttempts(t *testing.T) {
	reg := prometheus.NewRegistry()
	events := bus.New()
	c, err := NewCollector(reg, events)
	require.NoError(t, err)

	ctrl := reconnect.NewController(reconnect.Config{MaxAttempts: 3}, log.NewNop(), reconnect.WithEventBus(events))
	calls := 0
	ok, err := ctrl.StartReconnection(context.Background(), "test", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("refused")
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, ok)

	_, _ = ctrl.StartReconnection(context.Background(), "test", func(context.Context) error {
		return errors.New("refused")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconnects.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.reconnects.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.episodesExhausted))
	assert.Equal(t, 1, testutil.CollectAndCount(c.attemptDuration))

	c.Close()
	_ = events.Publish(bus.NewEvent(reconnect.EventExhausted, "test", reconnect.ExhaustedEvent{}, nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.episodesExhausted))
}

func TestCollector_RejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg, bus.New())
	require.NoError(t, err)

	_, err = NewCollector(reg, bus.New())
	assert.Error(t, err)
}

func TestCollector_TrackGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg, bus.New())
	require.NoError(t, err)

	require.NoError(t, c.TrackGauge("connections_active", "Open connections.", func() float64 { return 3 }))

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, mf := range families {
		if mf.GetName() == "wsrelay_connections_active" {
			found = true
			assert.Equal(t, 3.0, mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
	assert.True(t, found)
}

func TestCollector_BadAttemptPayload(t *testing.T) {
	events := bus.New()
	_, err := NewCollector(prometheus.NewRegistry(), events)
	require.NoError(t, err)

	err = events.Publish(bus.NewEvent(reconnect.EventAttempt, "test", time.Second, nil))
	assert.Error(t, err)
}

func TestCollector_ObservesBus(t *testing.T) {
	reg := prometheus.NewRegistry()
	events := bus.New()
	c, err := NewCollector(reg, events)
	require.NoError(t, err)

	require.NoError(t, events.Publish(bus.NewEvent(delivery.EventDuplicate, "test", nil, nil)))
	require.Error(t, events.Publish(bus.NewEvent(reconnect.EventAttempt, "test", "bad", nil)))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.published.WithLabelValues(delivery.EventDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.published.WithLabelValues(reconnect.EventAttempt)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.handlerErrors.WithLabelValues(delivery.EventDuplicate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.handlerErrors.WithLabelValues(reconnect.EventAttempt)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.dispatch))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.subscribers))

	c.Close()
	require.NoError(t, events.Publish(bus.NewEvent(delivery.EventDuplicate, "test", nil, nil)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.published.WithLabelValues(delivery.EventDuplicate)))
}
