package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/wsrelay/internal/core/observability/log"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Environment variables that override file values.
const (
	EnvLogLevel   = "WSRELAY_LOG_LEVEL"
	EnvServerAddr = "WSRELAY_SERVER_ADDR"
	EnvClientURL  = "WSRELAY_CLIENT_URL"
)

type Config struct {
	Log    log.Config   `yaml:"log"`
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
}

type ServerConfig struct {
	Addr             string          `yaml:"addr"`
	ReadTimeout      time.Duration   `yaml:"read_timeout"`
	WriteTimeout     time.Duration   `yaml:"write_timeout"`
	MaxMessageSize   int64           `yaml:"max_message_size"`
	MaxPending       int             `yaml:"max_pending"`
	MaxUnacked       int             `yaml:"max_unacked"`
	HeartbeatTimeout time.Duration   `yaml:"heartbeat_timeout"`
	ShutdownTimeout  time.Duration   `yaml:"shutdown_timeout"`
	RateLimit        RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type ClientConfig struct {
	URL               string          `yaml:"url"`
	ConnectTimeout    time.Duration   `yaml:"connect_timeout"`
	WriteTimeout      time.Duration   `yaml:"write_timeout"`
	HeartbeatInterval time.Duration   `yaml:"heartbeat_interval"`
	MaxPending        int             `yaml:"max_pending"`
	MaxUnacked        int             `yaml:"max_unacked"`
	ResendUnacked     bool            `yaml:"resend_unacked"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
	Breaker           BreakerConfig   `yaml:"breaker"`
}

type ReconnectConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	InitialDelay      time.Duration `yaml:"initial_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
}

func Default() *Config {
	return &Config{
		Log: log.Config{
			Level:    "info",
			Encoding: log.EncodingJSON,
		},
		Server: ServerConfig{
			Addr:             ":8080",
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			MaxMessageSize:   1 << 20,
			MaxPending:       1000,
			HeartbeatTimeout: 90 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			RateLimit: RateLimitConfig{
				PerSecond: 50,
				Burst:     100,
			},
		},
		Client: ClientConfig{
			URL:               "ws://localhost:8080/ws",
			ConnectTimeout:    5 * time.Second,
			WriteTimeout:      10 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			MaxPending:        1000,
			ResendUnacked:     true,
			Reconnect: ReconnectConfig{
				MaxAttempts:       5,
				InitialDelay:      time.Second,
				MaxDelay:          30 * time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            true,
			},
			Breaker: BreakerConfig{
				MaxFailures: 3,
				Cooldown:    time.Minute,
			},
		},
	}
}

// Load reads an optional .env file, then the YAML file at path (skipped when
// path is empty or missing), then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err = yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WSRELAY_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EnvServerAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvClientURL); v != "" {
		c.Client.URL = v
	}
}

func (c *Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", err.Error())
	}
	if c.Log.Encoding != "" && c.Log.Encoding != log.EncodingJSON && c.Log.Encoding != log.EncodingConsole {
		return invalid("log.encoding", "must be json or console")
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", "cannot be empty")
	}
	if c.Server.MaxPending < 1 {
		return invalid("server.max_pending", "must be at least 1")
	}
	if c.Server.MaxUnacked < 0 {
		return invalid("server.max_unacked", "cannot be negative")
	}
	if c.Server.MaxMessageSize < 0 {
		return invalid("server.max_message_size", "cannot be negative")
	}
	if c.Server.RateLimit.PerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		return invalid("server.rate_limit", "cannot be negative")
	}
	if c.Server.RateLimit.PerSecond > 0 && c.Server.RateLimit.Burst < 1 {
		return invalid("server.rate_limit.burst", "must be at least 1 when rate limiting is enabled")
	}

	if c.Client.URL == "" {
		return invalid("client.url", "cannot be empty")
	}
	if c.Client.MaxPending < 1 {
		return invalid("client.max_pending", "must be at least 1")
	}
	if c.Client.MaxUnacked < 0 {
		return invalid("client.max_unacked", "cannot be negative")
	}
	if c.Client.HeartbeatInterval < 0 {
		return invalid("client.heartbeat_interval", "cannot be negative")
	}

	r := c.Client.Reconnect
	if r.MaxAttempts < 1 {
		return invalid("client.reconnect.max_attempts", "must be at least 1")
	}
	if r.InitialDelay < 0 {
		return invalid("client.reconnect.initial_delay", "cannot be negative")
	}
	if r.MaxDelay < r.InitialDelay {
		return invalid("client.reconnect.max_delay", "must not be below initial_delay")
	}
	if r.BackoffMultiplier < 1 {
		return invalid("client.reconnect.backoff_multiplier", "must be at least 1")
	}

	if c.Client.Breaker.Cooldown < 0 {
		return invalid("client.breaker.cooldown", "cannot be negative")
	}
	return nil
}

func invalid(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidConfig, field, reason)
}
