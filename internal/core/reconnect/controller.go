package reconnect

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/zeusync/wsrelay/internal/core/events/bus"
	"github.com/zeusync/wsrelay/internal/core/observability/log"
	"github.com/zeusync/wsrelay/pkg/sequence"
)

// ConnectFunc re-establishes the link. It must honor ctx.
type ConnectFunc func(ctx context.Context) error

type Option func(*Controller)

func WithClock(c clock.Clock) Option {
	return func(r *Controller) { r.clock = c }
}

func WithEventBus(b bus.EventBus) Option {
	return func(r *Controller) { r.events = b }
}

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(r *Controller) { r.random = fn }
}

// Controller runs reconnection episodes with exponential backoff. Only one
// episode may be in flight at a time.
type Controller struct {
	cfg    Config
	logger log.Log
	clock  clock.Clock
	events bus.EventBus
	random func() float64

	inFlight atomic.Bool
	attempts atomic.Int64

	mu      sync.Mutex
	history *sequence.Deque[Attempt]
}

func NewController(cfg Config, logger log.Log, opts ...Option) *Controller {
	cfg.normalize()
	if logger == nil {
		logger = log.NewNop()
	}

	c := &Controller{
		cfg:     cfg,
		logger:  logger.With(log.String("subsystem", "reconnect")),
		clock:   clock.New(),
		random:  rand.Float64,
		history: sequence.NewDeque[Attempt](min(cfg.HistoryLimit, 64)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Config() Config {
	return c.cfg
}

// StartReconnection calls connect until it succeeds or MaxAttempts calls
// have failed, sleeping Delay(n) (plus jitter) before attempt n.
//
// It returns true on success and false on exhaustion. A concurrent call
// returns ErrReconnectInProgress; cancelling ctx aborts the episode with
// ctx.Err().
func (c *Controller) StartReconnection(ctx context.Context, reason string, connect ConnectFunc) (bool, error) {
	if connect == nil {
		return false, ErrNilConnectFunc
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return false, ErrReconnectInProgress
	}
	defer c.inFlight.Store(false)

	c.attempts.Store(0)
	started := c.clock.Now()
	logger := c.logger.With(log.String("reason", reason))
	logger.Info("Starting reconnection", log.Int("max_attempts", c.cfg.MaxAttempts))

	var lastErr error
	for n := 1; n <= c.cfg.MaxAttempts; n++ {
		delay := c.withJitter(c.Delay(n))
		if err := c.sleep(ctx, delay); err != nil {
			logger.Info("Reconnection cancelled", log.Int("attempt", n), log.Error(err))
			return false, err
		}

		c.attempts.Store(int64(n))
		attempt := c.try(ctx, n, reason, connect)
		c.record(attempt)
		c.publish(EventAttempt, attempt)

		if attempt.Success {
			elapsed := c.clock.Since(started)
			logger.Info("Reconnected",
				log.Int("attempt", n),
				log.Duration("elapsed", elapsed),
			)
			c.publish(EventSucceeded, SucceededEvent{Reason: reason, Attempts: n, Elapsed: elapsed})
			return true, nil
		}

		lastErr = attempt.Err
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Info("Reconnection cancelled", log.Int("attempt", n), log.Error(ctxErr))
			return false, ctxErr
		}
		logger.Warn("Reconnection attempt failed",
			log.Int("attempt", n),
			log.Duration("delay", delay),
			log.Duration("duration", attempt.Duration),
			log.Error(attempt.Err),
		)
	}

	logger.Error("Reconnection attempts exhausted",
		log.Int("attempts", c.cfg.MaxAttempts),
		log.Error(lastErr),
	)
	c.publish(EventExhausted, ExhaustedEvent{Reason: reason, Attempts: c.cfg.MaxAttempts, LastErr: lastErr})
	return false, nil
}

func (c *Controller) try(ctx context.Context, n int, reason string, connect ConnectFunc) Attempt {
	attemptCtx := ctx
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = c.clock.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	startedAt := c.clock.Now()
	err := connect(attemptCtx)
	return Attempt{
		Timestamp:     startedAt,
		AttemptNumber: n,
		Success:       err == nil,
		Duration:      c.clock.Since(startedAt),
		Err:           err,
		Reason:        reason,
	}
}

// Attempts returns the attempt counter of the running or most recent episode.
func (c *Controller) Attempts() int {
	return int(c.attempts.Load())
}

func (c *Controller) InProgress() bool {
	return c.inFlight.Load()
}

// Delay returns the jitter-free wait before attempt n (1-based):
// min(InitialDelay * BackoffMultiplier^(n-1), MaxDelay).
func (c *Controller) Delay(n int) time.Duration {
	if c.cfg.InitialDelay <= 0 {
		return 0
	}
	if n < 1 {
		n = 1
	}
	backoff := float64(c.cfg.InitialDelay) * math.Pow(c.cfg.BackoffMultiplier, float64(n-1))
	if c.cfg.MaxDelay > 0 && backoff > float64(c.cfg.MaxDelay) {
		return c.cfg.MaxDelay
	}
	return saturate(backoff)
}

// History returns the retained attempt records, oldest first.
func (c *Controller) History() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Items()
}

func (c *Controller) withJitter(delay time.Duration) time.Duration {
	if !c.cfg.Jitter || delay <= 0 {
		return delay
	}
	return saturate(float64(delay) + float64(delay)*c.cfg.JitterFactor*c.random())
}

// saturate converts ns to a Duration, clamping at the largest Duration.
func saturate(ns float64) time.Duration {
	if ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	timer := c.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Controller) record(a Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history.PushBack(a)
	if c.history.Len() > c.cfg.HistoryLimit {
		c.history.DropFront(c.history.Len() - c.cfg.HistoryLimit)
	}
}

func (c *Controller) publish(eventType string, data any) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(bus.NewEvent(eventType, eventSource, data, nil)); err != nil {
		c.logger.Debug("Event handler failed", log.String("event", eventType), log.Error(err))
	}
}
