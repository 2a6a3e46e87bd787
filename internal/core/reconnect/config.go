package reconnect

import "time"

const (
	defaultMaxAttempts  = 5
	defaultMultiplier   = 2.0
	defaultJitterFactor = 0.1
	defaultHistoryLimit = 1000
)

// Config is the backoff policy of a Controller.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Jitter adds a random term in [0, JitterFactor*delay) to every delay.
	Jitter       bool
	JitterFactor float64
	// AttemptTimeout bounds a single connect call. Zero leaves it to the caller's context.
	AttemptTimeout time.Duration
	// HistoryLimit caps the retained attempt records; the oldest are evicted.
	HistoryLimit int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:       defaultMaxAttempts,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: defaultMultiplier,
		Jitter:            true,
		JitterFactor:      defaultJitterFactor,
		HistoryLimit:      defaultHistoryLimit,
	}
}

// normalize replaces unusable values with defaults.
func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay > 0 && c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = defaultMultiplier
	}
	if c.Jitter && c.JitterFactor <= 0 {
		c.JitterFactor = defaultJitterFactor
	}
	if c.AttemptTimeout < 0 {
		c.AttemptTimeout = 0
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
}
