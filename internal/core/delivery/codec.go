package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeusync/wsrelay/pkg/generic"
)

const (
	fieldType        = "type"
	fieldID          = "id"
	fieldAckRequired = "ack_required"
)

var bufferPool = generic.NewHotPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 512)) },
	func(b *bytes.Buffer) { b.Reset() },
	16,
)

type ackFrame struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
}

type controlFrame struct {
	Type string `json:"type"`
}

// Encode serializes msg with its payload fields flattened next to the
// reserved type, id and ack_required keys. Reserved keys always win.
func Encode(msg Message) ([]byte, error) {
	frame := make(map[string]any, len(msg.Payload)+3)
	for k, v := range msg.Payload {
		frame[k] = v
	}
	frame[fieldType] = msg.Type
	if msg.ID != "" {
		frame[fieldID] = msg.ID
	} else {
		delete(frame, fieldID)
	}
	if msg.AckRequired {
		frame[fieldAckRequired] = true
	} else {
		delete(frame, fieldAckRequired)
	}
	return marshal(frame)
}

// EncodeAck builds the acknowledgment frame for id.
func EncodeAck(id string, at time.Time) ([]byte, error) {
	return marshal(ackFrame{Type: TypeAck, ID: id, Timestamp: at.UTC().Format(time.RFC3339Nano)})
}

// EncodeControl builds a payload-less frame such as ping or pong.
func EncodeControl(msgType string) ([]byte, error) {
	return marshal(controlFrame{Type: msgType})
}

// Decode parses one inbound frame. The frame must be a JSON object; type and
// id, when present, must be strings.
func Decode(raw []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var frame map[string]any
	if err := dec.Decode(&frame); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if frame == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}
	if dec.More() {
		return Message{}, fmt.Errorf("%w: trailing data", ErrMalformedMessage)
	}

	var msg Message
	if v, ok := frame[fieldType]; ok {
		s, isString := v.(string)
		if !isString {
			return Message{}, fmt.Errorf("%w: type is %T", ErrMalformedMessage, v)
		}
		msg.Type = s
	}
	if v, ok := frame[fieldID]; ok && v != nil {
		s, isString := v.(string)
		if !isString {
			return Message{}, fmt.Errorf("%w: id is %T", ErrMalformedMessage, v)
		}
		msg.ID = s
	}
	if v, ok := frame[fieldAckRequired].(bool); ok {
		msg.AckRequired = v
	}

	delete(frame, fieldType)
	delete(frame, fieldID)
	delete(frame, fieldAckRequired)
	if len(frame) > 0 {
		msg.Payload = frame
	}
	return msg, nil
}

func marshal(v any) ([]byte, error) {
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return bytes.Clone(out), nil
}
