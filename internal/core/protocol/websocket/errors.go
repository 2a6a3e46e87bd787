package websocket

import (
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("websocket connection is closed")
	ErrUnsupportedFrame = errors.New("unsupported websocket frame type")
	ErrHandshakeFailed  = errors.New("websocket handshake failed")
	ErrMessageTooLarge  = errors.New("websocket message exceeds size limit")
)

// IsClosed reports whether err means the peer or the local side closed the
// connection, as opposed to a transient failure.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}
