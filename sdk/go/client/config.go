package client

import (
	"net/http"
	"time"

	"github.com/zeusync/wsrelay/internal/config"
	wsconn "github.com/zeusync/wsrelay/internal/core/protocol/websocket"
	"github.com/zeusync/wsrelay/internal/core/reconnect"
)

// Config holds configuration for the client
type Config struct {
	// Connection settings
	URL            string
	Header         http.Header
	ConnectTimeout time.Duration
	Transport      wsconn.Config

	// HeartbeatInterval is the ping period. Zero disables heartbeats.
	HeartbeatInterval time.Duration

	// Delivery settings
	MaxPending int
	MaxUnacked int
	// ResendUnacked requeues messages still waiting for an ack after a reconnect.
	ResendUnacked bool

	Reconnect reconnect.Config
	Breaker   BreakerConfig
}

// BreakerConfig trips reconnection after MaxFailures exhausted episodes in a
// row and keeps it suspended for Cooldown.
type BreakerConfig struct {
	MaxFailures uint32
	Cooldown    time.Duration
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return FromConfig(config.Default().Client)
}

// FromConfig maps the file-level client section onto a client Config.
func FromConfig(c config.ClientConfig) Config {
	transport := wsconn.DefaultConfig()
	if c.WriteTimeout > 0 {
		transport.WriteTimeout = c.WriteTimeout
	}
	if c.ConnectTimeout > 0 {
		transport.HandshakeTimeout = c.ConnectTimeout
	}
	if c.HeartbeatInterval > 0 {
		// Two missed pongs mark the link dead.
		transport.ReadTimeout = 2*c.HeartbeatInterval + transport.WriteTimeout
	}

	rc := reconnect.DefaultConfig()
	rc.MaxAttempts = c.Reconnect.MaxAttempts
	rc.InitialDelay = c.Reconnect.InitialDelay
	rc.MaxDelay = c.Reconnect.MaxDelay
	rc.BackoffMultiplier = c.Reconnect.BackoffMultiplier
	rc.Jitter = c.Reconnect.Jitter
	rc.AttemptTimeout = c.ConnectTimeout

	return Config{
		URL:               c.URL,
		ConnectTimeout:    c.ConnectTimeout,
		Transport:         transport,
		HeartbeatInterval: c.HeartbeatInterval,
		MaxPending:        c.MaxPending,
		MaxUnacked:        c.MaxUnacked,
		ResendUnacked:     c.ResendUnacked,
		Reconnect:         rc,
		Breaker: BreakerConfig{
			MaxFailures: c.Breaker.MaxFailures,
			Cooldown:    c.Breaker.Cooldown,
		},
	}
}
