package delivery

import "errors"

var (
	ErrSerializationFailed = errors.New("message serialization failed")
	ErrTransportSend       = errors.New("transport send failed")
	ErrTransportClosed     = errors.New("transport is closed")
	ErrTooManyUnacked      = errors.New("too many unacknowledged messages")
	ErrMalformedMessage    = errors.New("malformed message")
	ErrNilState            = errors.New("nil message state")
)
