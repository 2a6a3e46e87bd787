package reconnect

import "errors"

var (
	ErrReconnectInProgress = errors.New("reconnection already in progress")
	ErrNilConnectFunc      = errors.New("nil connect function")
)
