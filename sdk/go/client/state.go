package client

// State is the connection lifecycle of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}
