package reconnect

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
)

var errRefused = errors.New("connection refused")

func noDelayConfig(maxAttempts int) Config {
	return Config{MaxAttempts: maxAttempts, BackoffMultiplier: 2}
}

type episodeResult struct {
	ok  bool
	err error
}

// runWithMock advances mock until the episode started by fn returns.
func runWithMock(t *testing.T, mock *clock.Mock, fn func() (bool, error)) (bool, error) {
	t.Helper()
	done := make(chan episodeResult, 1)
	go func() {
		ok, err := fn()
		done <- episodeResult{ok: ok, err: err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-done:
			return r.ok, r.err
		case <-deadline:
			t.Fatal("reconnection episode did not finish")
			return false, nil
		default:
			mock.Add(100 * time.Millisecond)
		}
	}
}

func TestDelay_Schedule(t *testing.T) {
	c := NewController(Config{
		MaxAttempts:       10,
		InitialDelay:      time.Second,
		MaxDelay:          16 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            true,
	}, log.NewNop())

	want := []time.Duration{1, 2, 4, 8, 16, 16, 16}
	for i, w := range want {
		assert.Equal(t, w*time.Second, c.Delay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, time.Second, c.Delay(0))
}

func TestDelay_Uncapped(t *testing.T) {
	c := NewController(Config{InitialDelay: time.Millisecond, BackoffMultiplier: 10}, log.NewNop())
	assert.Equal(t, 1000*time.Millisecond, c.Delay(4))
	assert.Equal(t, time.Duration(1<<63-1), c.Delay(100))
}

func TestDelay_Saturates(t *testing.T) {
	zero := NewController(Config{BackoffMultiplier: 2}, log.NewNop())
	assert.Zero(t, zero.Delay(1))
	assert.Zero(t, zero.Delay(5000))

	huge := NewController(Config{InitialDelay: time.Second, BackoffMultiplier: 2}, log.NewNop())
	assert.Equal(t, time.Duration(math.MaxInt64), huge.Delay(5000))

	jittered := NewController(Config{Jitter: true, JitterFactor: 0.5}, log.NewNop(), WithRandom(func() float64 { return 0.999 }))
	assert.Equal(t, time.Duration(math.MaxInt64), jittered.withJitter(time.Duration(math.MaxInt64-1)))
}

func TestJitter_StaysWithinFactor(t *testing.T) {
	high := NewController(Config{Jitter: true, JitterFactor: 0.1}, log.NewNop(), WithRandom(func() float64 { return 0.999 }))
	low := NewController(Config{Jitter: true}, log.NewNop(), WithRandom(func() float64 { return 0 }))
	off := NewController(Config{}, log.NewNop(), WithRandom(func() float64 { return 0.5 }))

	base := 10 * time.Second
	jittered := high.withJitter(base)
	assert.Greater(t, jittered, base)
	assert.Less(t, jittered, base+base/10)
	assert.Equal(t, base, low.withJitter(base))
	assert.Equal(t, base, off.withJitter(base))
	assert.InDelta(t, 0.1, low.Config().JitterFactor, 1e-9)
}

func TestStartReconnection_SuccessFirstTry(t *testing.T) {
	c := NewController(noDelayConfig(5), log.NewNop())

	ok, err := c.StartReconnection(context.Background(), "network_error", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Attempts())
	assert.False(t, c.InProgress())

	history := c.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].Success)
	assert.Equal(t, 1, history[0].AttemptNumber)
	assert.Equal(t, "network_error", history[0].Reason)
	assert.NoError(t, history[0].Err)
}

func TestStartReconnection_Exhaustion(t *testing.T) {
	events := bus.New()
	var exhausted []ExhaustedEvent
	_, _ = events.Subscribe(EventExhausted, func(e bus.Event) error {
		exhausted = append(exhausted, e.Data().(ExhaustedEvent))
		return nil
	})
	c := NewController(noDelayConfig(3), log.NewNop(), WithEventBus(events))

	calls := 0
	ok, err := c.StartReconnection(context.Background(), "auth_expired", func(context.Context) error {
		calls++
		return errRefused
	})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, c.Attempts())
	assert.Equal(t, 3, calls)

	history := c.History()
	require.Len(t, history, 3)
	for i, a := range history {
		assert.Equal(t, i+1, a.AttemptNumber)
		assert.False(t, a.Success)
		assert.ErrorIs(t, a.Err, errRefused)
	}

	require.Len(t, exhausted, 1)
	assert.Equal(t, "auth_expired", exhausted[0].Reason)
	assert.Equal(t, 3, exhausted[0].Attempts)
	assert.ErrorIs(t, exhausted[0].LastErr, errRefused)
}

func TestStartReconnection_WaitsBackoffBeforeEachAttempt(t *testing.T) {
	mock := clock.NewMock()
	c := NewController(Config{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		MaxDelay:          16 * time.Second,
		BackoffMultiplier: 2,
	}, log.NewNop(), WithClock(mock))

	start := mock.Now()
	var calls []time.Time
	ok, err := runWithMock(t, mock, func() (bool, error) {
		return c.StartReconnection(context.Background(), "network_error", func(context.Context) error {
			calls = append(calls, mock.Now())
			if len(calls) < 3 {
				return errRefused
			}
			return nil
		})
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, calls, 3)
	assert.Equal(t, 3, c.Attempts())

	assert.GreaterOrEqual(t, calls[0].Sub(start), time.Second)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 2*time.Second)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 4*time.Second)
}

func TestStartReconnection_RejectsConcurrentEpisode(t *testing.T) {
	c := NewController(noDelayConfig(1), log.NewNop())

	entered := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ok, err := c.StartReconnection(context.Background(), "first", func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
		assert.NoError(t, err)
		assert.True(t, ok)
	}()

	<-entered
	assert.True(t, c.InProgress())
	ok, err := c.StartReconnection(context.Background(), "second", func(context.Context) error { return nil })
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrReconnectInProgress)

	close(release)
	wg.Wait()
	assert.False(t, c.InProgress())

	ok, err = c.StartReconnection(context.Background(), "third", func(context.Context) error { return nil })
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestStartReconnection_CancelAbortsBackoff(t *testing.T) {
	c := NewController(Config{MaxAttempts: 3, InitialDelay: time.Hour}, log.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	called := false
	started := time.Now()
	ok, err := c.StartReconnection(ctx, "shutdown", func(context.Context) error {
		called = true
		return nil
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Less(t, time.Since(started), time.Second)
	assert.False(t, c.InProgress())
}

func TestStartReconnection_CancelDuringConnect(t *testing.T) {
	c := NewController(noDelayConfig(5), log.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	ok, err := c.StartReconnection(ctx, "shutdown", func(context.Context) error {
		cancel()
		return errRefused
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, c.Attempts())
}

func TestStartReconnection_AttemptTimeout(t *testing.T) {
	cfg := noDelayConfig(2)
	cfg.AttemptTimeout = 20 * time.Millisecond
	c := NewController(cfg, log.NewNop())

	ok, err := c.StartReconnection(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	assert.False(t, ok)
	for _, a := range c.History() {
		assert.ErrorIs(t, a.Err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, a.DurationMs(), int64(15))
	}
}

func TestHistory_IsBounded(t *testing.T) {
	cfg := noDelayConfig(5)
	cfg.HistoryLimit = 2
	c := NewController(cfg, log.NewNop())

	_, _ = c.StartReconnection(context.Background(), "x", func(context.Context) error { return errRefused })

	history := c.History()
	require.Len(t, history, 2)
	assert.Equal(t, 4, history[0].AttemptNumber)
	assert.Equal(t, 5, history[1].AttemptNumber)
}

func TestStartReconnection_NilConnect(t *testing.T) {
	c := NewController(DefaultConfig(), log.NewNop())
	_, err := c.StartReconnection(context.Background(), "x", nil)
	assert.ErrorIs(t, err, ErrNilConnectFunc)
}

func TestNormalize(t *testing.T) {
	cfg := Config{MaxAttempts: -1, InitialDelay: 5 * time.Second, MaxDelay: time.Second, BackoffMultiplier: 0.5, HistoryLimit: -3}
	cfg.normalize()

	assert.Equal(t, defaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, defaultMultiplier, cfg.BackoffMultiplier)
	assert.Equal(t, defaultHistoryLimit, cfg.HistoryLimit)
}
