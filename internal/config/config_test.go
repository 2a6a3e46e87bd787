package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "wsrelay.yaml", `
log:
  level: debug
  encoding: console
server:
  addr: ":9000"
  max_pending: 50
  max_unacked: 10
  rate_limit:
    per_second: 5
    burst: 10
client:
  url: ws://example.test/ws
  max_unacked: 4
  resend_unacked: false
  reconnect:
    max_attempts: 3
    initial_delay: 250ms
    max_delay: 4s
    backoff_multiplier: 1.5
  breaker:
    max_failures: 2
    cooldown: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Encoding)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 50, cfg.Server.MaxPending)
	assert.Equal(t, 10, cfg.Server.MaxUnacked)
	assert.Equal(t, 5.0, cfg.Server.RateLimit.PerSecond)
	assert.Equal(t, "ws://example.test/ws", cfg.Client.URL)
	assert.Equal(t, 4, cfg.Client.MaxUnacked)
	assert.False(t, cfg.Client.ResendUnacked)
	assert.Equal(t, 3, cfg.Client.Reconnect.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Client.Reconnect.InitialDelay)
	assert.Equal(t, 4*time.Second, cfg.Client.Reconnect.MaxDelay)
	assert.Equal(t, 1.5, cfg.Client.Reconnect.BackoffMultiplier)
	assert.Equal(t, uint32(2), cfg.Client.Breaker.MaxFailures)
	assert.Equal(t, 10*time.Second, cfg.Client.Breaker.Cooldown)

	// untouched fields keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Client.HeartbeatInterval)
	assert.True(t, cfg.Client.Reconnect.Jitter)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Addr, cfg.Server.Addr)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Client.URL, cfg.Client.URL)
}

func TestLoad_BadYAML(t *testing.T) {
	path := writeFile(t, "bad.yaml", "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvServerAddr, "127.0.0.1:7000")
	t.Setenv(EnvClientURL, "ws://override/ws")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)
	assert.Equal(t, "ws://override/ws", cfg.Client.URL)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"log level":          func(c *Config) { c.Log.Level = "loud" },
		"log encoding":       func(c *Config) { c.Log.Encoding = "xml" },
		"empty addr":         func(c *Config) { c.Server.Addr = "" },
		"server max pending": func(c *Config) { c.Server.MaxPending = 0 },
		"negative unacked":   func(c *Config) { c.Server.MaxUnacked = -1 },
		"client unacked":     func(c *Config) { c.Client.MaxUnacked = -1 },
		"burst":              func(c *Config) { c.Server.RateLimit.Burst = 0 },
		"client url":         func(c *Config) { c.Client.URL = "" },
		"attempts":           func(c *Config) { c.Client.Reconnect.MaxAttempts = 0 },
		"max delay":          func(c *Config) { c.Client.Reconnect.MaxDelay = time.Millisecond },
		"multiplier":         func(c *Config) { c.Client.Reconnect.BackoffMultiplier = 0.5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
