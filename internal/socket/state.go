package socket

// State is the connection lifecycle state owned by the Client.
type State int

const (
	// StateDisconnected is the initial state and the result of an explicit
	// disconnect.
	StateDisconnected State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateConnected means the transport handshake completed.
	StateConnected
	// StateReconnecting means the transport's own retry loop is running.
	StateReconnecting
	// StateFailed means reconnection attempts are exhausted; a manual
	// Connect is required.
	StateFailed
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
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is a point-in-time snapshot of the connection state, shaped for
// UI consumption.
type Status struct {
	IsConnected       bool
	IsConnecting      bool
	IsReconnecting    bool
	ReconnectAttempts uint32
	LastError         string
}
