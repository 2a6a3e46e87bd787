package delivery

import (
	"maps"
	"time"
)

// Wire type tags with protocol meaning.
const (
	TypeAck  = "ack"
	TypePing = "ping"
	TypePong = "pong"
)

// Message is the caller-supplied unit of communication.
type Message struct {
	Type        string
	ID          string
	Payload     map[string]any
	AckRequired bool
}

// Clone returns a copy whose top-level payload map can be mutated independently.
func (m Message) Clone() Message {
	out := m
	if m.Payload != nil {
		out.Payload = maps.Clone(m.Payload)
	}
	return out
}

// MessageState tracks the lifecycle of one outbound message.
type MessageState struct {
	ID           string
	Content      Message
	CreatedAt    time.Time
	AckRequired  bool
	Acknowledged bool
	RetryCount   int
}

func (s *MessageState) clone() *MessageState {
	out := *s
	out.Content = s.Content.Clone()
	return &out
}

// SendResult describes what Handler.Send did with a message.
type SendResult uint8

const (
	SendSent SendResult = iota
	SendQueued
	SendDropped
)

func (r SendResult) String() string {
	switch r {
	case SendSent:
		return "sent"
	case SendQueued:
		return "queued"
	case SendDropped:
		return "dropped"
	default:
		return "unknown"
	}
}
