package delivery

import "context"

// Transport is a bidirectional, message-oriented link. Send and Receive may
// be called concurrently from different goroutines.
type Transport interface {
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	IsOpen() bool
}

// MessageCallback receives every inbound application message that is neither
// a control message nor a duplicate.
type MessageCallback func(connectionID string, msg Message)

// AckCallback is called after an outbound message has been acknowledged.
type AckCallback func(id string)
