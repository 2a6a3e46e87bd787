package client

import "errors"

// Client-specific errors
var (
	ErrClientClosed     = errors.New("client is closed")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrReconnectFailed  = errors.New("reconnection failed")
	ErrCircuitOpen      = errors.New("reconnection suspended by circuit breaker")
	ErrInvalidConfig    = errors.New("invalid client configuration")
	ErrInvalidMessage   = errors.New("invalid message")
	ErrMessageDropped   = errors.New("message dropped: pending queue is full")
)
