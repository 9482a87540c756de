package socket

import (
	"fmt"
	"sync"
	"time"

	sio "github.com/zishang520/socket.io/clients/socket/v3"
	siotypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/savorly/partnerlink/pkg/logger"
)

// maxReconnectAttempts is the transport's retry budget before it gives up and
// emits reconnect_failed.
const maxReconnectAttempts = 5

// socketEvents are delivered on the per-namespace socket.
var socketEvents = []string{
	EventConnect,
	EventDisconnect,
	EventConnectError,
	EventPong,
	EventOrderStatusUpdate,
	EventNotification,
}

// managerEvents are delivered on the socket.io manager, which owns the retry
// loop.
var managerEvents = []string{
	EventReconnect,
	EventReconnectAttempt,
	EventReconnectFailed,
}

// SocketIOTransport is the production Transport over a socket.io client.
type SocketIOTransport struct {
	endpoint string

	mu      sync.Mutex
	sock    *sio.Socket
	auth    map[string]any
	handler func(event string, args []any)
}

// NewSocketIOTransport creates a transport for the given namespace endpoint,
// e.g. "https://api.example.com/notifications".
func NewSocketIOTransport(endpoint string) *SocketIOTransport {
	return &SocketIOTransport{
		endpoint: endpoint,
		auth:     map[string]any{},
	}
}

// SetToken updates the handshake auth payload. The auth map is shared with
// the socket.io options by reference, so automatic reconnection attempts pick
// up the fresh token without re-dialing.
func (t *SocketIOTransport) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.auth["token"] = token
}

// OnEvent registers the event sink.
func (t *SocketIOTransport) OnEvent(fn func(event string, args []any)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Dial opens the socket.io connection, closing any previous one first so the
// process never holds two live sockets.
func (t *SocketIOTransport) Dial() error {
	t.mu.Lock()
	if t.sock != nil {
		t.sock.Disconnect()
		t.sock = nil
	}
	auth := t.auth
	t.mu.Unlock()

	opts := sio.DefaultOptions()
	opts.SetTransports(siotypes.NewSet(sio.Polling, sio.WebSocket))
	opts.SetReconnection(true)
	opts.SetReconnectionAttempts(maxReconnectAttempts)
	opts.SetAuth(auth)

	logger.Debugf("socket: dialing %s", t.endpoint)
	sock, err := sio.Connect(t.endpoint, opts)
	if err != nil {
		return fmt.Errorf("socket.io connect: %w", err)
	}

	for _, event := range socketEvents {
		event := event
		sock.On(siotypes.EventName(event), func(args ...any) {
			t.dispatch(event, args)
		})
	}
	for _, event := range managerEvents {
		event := event
		sock.Io().On(siotypes.EventName(event), func(args ...any) {
			t.dispatch(event, args)
		})
	}

	t.mu.Lock()
	t.sock = sock
	t.mu.Unlock()
	return nil
}

// dispatch forwards an event to the sink inline, preserving transport order.
func (t *SocketIOTransport) dispatch(event string, args []any) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()

	if handler != nil {
		handler(event, args)
	}
}

// Emit sends an event to the server.
func (t *SocketIOTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()

	if sock == nil {
		return fmt.Errorf("not connected")
	}
	sock.Emit(event, payload)
	return nil
}

// EmitWithAck sends an event and waits for an ACK response.
func (t *SocketIOTransport) EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error) {
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()

	if sock == nil {
		return nil, fmt.Errorf("not connected")
	}

	resultCh := make(chan map[string]any, 1)
	errCh := make(chan error, 1)

	sock.Emit(event, payload, func(args []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		if len(args) == 0 {
			resultCh <- nil
			return
		}
		if ack, ok := args[0].(map[string]any); ok {
			resultCh <- ack
			return
		}
		resultCh <- nil
	})

	select {
	case result := <-resultCh:
		return result, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(timeout):
		return nil, fmt.Errorf("ack timeout")
	}
}

// Connected reports whether the underlying socket is up.
func (t *SocketIOTransport) Connected() bool {
	t.mu.Lock()
	sock := t.sock
	t.mu.Unlock()
	return sock != nil && sock.Connected()
}

// Close disconnects and drops the socket handle.
func (t *SocketIOTransport) Close() {
	t.mu.Lock()
	sock := t.sock
	t.sock = nil
	t.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
}
