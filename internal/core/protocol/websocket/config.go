package websocket

import "time"

// Config tunes a websocket Conn.
type Config struct {
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration
	// ReadTimeout is the idle limit between inbound frames. Zero disables it.
	ReadTimeout time.Duration
	// HandshakeTimeout bounds the opening handshake when dialing.
	HandshakeTimeout time.Duration
	// MaxMessageSize is the largest inbound frame accepted, in bytes. Zero disables the limit.
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
}

func DefaultConfig() Config {
	return Config{
		WriteTimeout:     10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		MaxMessageSize:   1 << 20,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}
}
