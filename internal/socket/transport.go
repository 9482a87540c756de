package socket

import "time"

// Transport is the minimal wire surface the connection state machine drives.
// The production implementation wraps a socket.io client; tests substitute a
// fake.
//
// Implementations must guarantee at most one live underlying connection:
// Dial closes any previous connection before opening a new one.
type Transport interface {
	// Dial opens the connection using the most recently set token in the
	// handshake auth payload.
	Dial() error

	// Emit sends an event. It fails when no connection is open.
	Emit(event string, payload any) error

	// EmitWithAck sends an event and waits for the server acknowledgment.
	EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error)

	// SetToken updates the handshake auth token used by the next dial or
	// automatic reconnection attempt.
	SetToken(token string)

	// OnEvent registers the single event sink. Events are delivered in
	// transport order on the transport's goroutine. A nil sink detaches.
	OnEvent(fn func(event string, args []any))

	// Connected reports whether the underlying connection is up.
	Connected() bool

	// Close tears down the connection. Safe to call when already closed.
	Close()
}
