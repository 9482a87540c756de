// Package socket implements the resilient realtime client: the connection
// state machine, room bookkeeping, the offline event queue and the heartbeat
// monitor, bridged onto the application event bus.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/savorly/partnerlink/internal/bus"
	"github.com/savorly/partnerlink/internal/netwatch"
	"github.com/savorly/partnerlink/pkg/logger"
	"github.com/savorly/partnerlink/pkg/types"
)

// ErrDestroyed is returned by operations on a destroyed client.
var ErrDestroyed = errors.New("socket client destroyed")

// onlineConnectDelay is how long to wait after connectivity returns before
// retrying, giving the radio a moment to settle.
const onlineConnectDelay = time.Second

// TokenSource supplies handshake credentials. The token coordinator
// implements it.
type TokenSource interface {
	AccessToken() (string, bool)
	IsExpired() bool
	Refresh(ctx context.Context) (string, error)
}

// Config tunes a Client. Zero values select defaults.
type Config struct {
	QueueCapacity int
	PingInterval  time.Duration
	PongTimeout   time.Duration
}

// Client owns the single socket transport and drives the
// Disconnected -> Connecting -> Connected -> Reconnecting -> Failed
// lifecycle.
type Client struct {
	transport Transport
	tokens    TokenSource
	bus       *bus.Bus

	pingInterval time.Duration
	pongTimeout  time.Duration

	mu                sync.Mutex
	state             State
	reconnectAttempts uint32
	lastError         string
	rooms             map[string]struct{}
	queue             *eventQueue
	hb                *heartbeat
	watcher           *netwatch.Watcher
	destroyed         bool
}

// NewClient creates a client with default tuning.
func NewClient(transport Transport, tokens TokenSource, b *bus.Bus) *Client {
	return NewClientWithConfig(transport, tokens, b, Config{})
}

// NewClientWithConfig creates a client with explicit tuning.
func NewClientWithConfig(transport Transport, tokens TokenSource, b *bus.Bus, cfg Config) *Client {
	c := &Client{
		transport:    transport,
		tokens:       tokens,
		bus:          b,
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
		state:        StateDisconnected,
		rooms:        make(map[string]struct{}),
		queue:        newEventQueue(cfg.QueueCapacity),
	}
	transport.OnEvent(c.handleEvent)
	return c
}

// AttachReachability wires a network watcher so connectivity returning while
// disconnected schedules a connect attempt.
func (c *Client) AttachReachability(w *netwatch.Watcher) {
	c.mu.Lock()
	c.watcher = w
	c.mu.Unlock()

	w.SetOnOnline(func() {
		c.mu.Lock()
		skip := c.destroyed || c.state == StateConnected
		c.mu.Unlock()
		if skip {
			return
		}
		time.AfterFunc(onlineConnectDelay, func() {
			if err := c.Connect(context.Background()); err != nil {
				logger.Warnf("socket: reconnect after connectivity returned failed: %v", err)
			}
		})
	})
	w.Start()
}

// Connect dials the transport with fresh credentials. It is a no-op while
// already Connecting or Connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	switch c.state {
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	token, ok := c.tokens.AccessToken()
	if !ok || c.tokens.IsExpired() {
		fresh, err := c.tokens.Refresh(ctx)
		if err != nil {
			c.mu.Lock()
			c.state = StateDisconnected
			c.lastError = err.Error()
			c.mu.Unlock()
			// The orchestrator turns this into a logout cascade.
			c.bus.Publish(bus.TokenExpiredEvent{Reason: err.Error()})
			return err
		}
		token = fresh
	}

	c.transport.SetToken(token)
	if err := c.transport.Dial(); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.lastError = err.Error()
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect stops the heartbeat and closes the transport, regardless of
// prior state. Room membership is kept so the next connect re-establishes it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopHeartbeatLocked()
	c.state = StateDisconnected
	transport := c.transport
	c.mu.Unlock()

	if transport != nil {
		transport.Close()
	}
}

// Destroy disconnects, detaches listeners, stops the reachability watcher and
// clears all local bookkeeping. The client is unusable afterwards.
func (c *Client) Destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	c.stopHeartbeatLocked()
	c.state = StateDisconnected
	c.rooms = make(map[string]struct{})
	transport := c.transport
	watcher := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	c.queue.clear()
	if watcher != nil {
		watcher.Stop()
	}
	if transport != nil {
		transport.OnEvent(nil)
		transport.Close()
	}
}

// Status returns a snapshot of the connection state.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IsConnected:       c.state == StateConnected,
		IsConnecting:      c.state == StateConnecting,
		IsReconnecting:    c.state == StateReconnecting,
		ReconnectAttempts: c.reconnectAttempts,
		LastError:         c.lastError,
	}
}

// Emit sends an event now when Connected, otherwise buffers it in the
// offline queue for the next connect.
func (c *Client) Emit(event string, payload any) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.state == StateConnected {
		transport := c.transport
		c.mu.Unlock()
		return transport.Emit(event, payload)
	}
	c.mu.Unlock()

	c.queue.push(queuedEvent{Name: event, Payload: payload, EnqueuedAt: time.Now()})
	logger.Debugf("socket: queued %q while disconnected", event)
	return nil
}

// EmitWithAck sends an event and waits for the server acknowledgment. Unlike
// Emit it never queues: callers wanting an ack need a live connection.
func (c *Client) EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil, ErrDestroyed
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil, errors.New("not connected")
	}
	transport := c.transport
	c.mu.Unlock()

	return transport.EmitWithAck(event, payload, timeout)
}

// JoinRoom subscribes to a room. Joining an already-tracked room is a local
// no-op with no wire emission.
func (c *Client) JoinRoom(room string) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if _, ok := c.rooms[room]; ok {
		c.mu.Unlock()
		return nil
	}
	c.rooms[room] = struct{}{}
	c.mu.Unlock()

	return c.Emit(EventJoinRoom, room)
}

// LeaveRoom unsubscribes from a room. Leaving an untracked room is a no-op.
func (c *Client) LeaveRoom(room string) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if _, ok := c.rooms[room]; !ok {
		c.mu.Unlock()
		return nil
	}
	delete(c.rooms, room)
	c.mu.Unlock()

	return c.Emit(EventLeaveRoom, room)
}

// Rooms returns the currently tracked room memberships.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomsLocked()
}

func (c *Client) roomsLocked() []string {
	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// WaitForConnect polls until the client reports Connected or the timeout
// elapses.
func (c *Client) WaitForConnect(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.Status().IsConnected {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return c.Status().IsConnected
}

// handleEvent is the single transport sink. It runs on the transport's
// goroutine; a panic here must never tear down the connection.
func (c *Client) handleEvent(event string, args []any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("socket: handler panic for %q: %v", event, r)
		}
	}()

	switch event {
	case EventConnect, EventReconnect:
		c.onConnected()
	case EventDisconnect:
		c.onDisconnected(stringFromArgs(args))
	case EventConnectError:
		message := stringFromArgs(args)
		c.mu.Lock()
		c.lastError = message
		c.mu.Unlock()
		logger.Warnf("socket: connect error: %s", message)
	case EventReconnectAttempt:
		c.onReconnectAttempt()
	case EventReconnectFailed:
		c.onReconnectFailed()
	case EventPong:
		c.mu.Lock()
		hb := c.hb
		c.mu.Unlock()
		if hb != nil {
			hb.pong()
		}
		logger.Tracef("socket: pong received")
	case EventOrderStatusUpdate:
		c.bridgeOrderStatus(args)
	case EventNotification:
		c.bridgeNotification(args)
	}
}

// onConnected handles both the initial connect and a successful reconnect:
// reset the failure counters, re-establish room membership, flush the
// offline queue in order and start the heartbeat.
func (c *Client) onConnected() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.reconnectAttempts = 0
	c.lastError = ""
	transport := c.transport
	rooms := c.roomsLocked()
	c.startHeartbeatLocked()
	c.mu.Unlock()

	for _, room := range rooms {
		if err := transport.Emit(EventJoinRoom, room); err != nil {
			logger.Warnf("socket: rejoin %q failed: %v", room, err)
		}
	}

	queued := c.queue.drain()
	for _, event := range queued {
		// Room control is re-established from membership above; replaying
		// queued joins/leaves would double-send them.
		if event.Name == EventJoinRoom || event.Name == EventLeaveRoom {
			continue
		}
		if err := transport.Emit(event.Name, event.Payload); err != nil {
			logger.Warnf("socket: flush of %q failed: %v", event.Name, err)
		}
	}
	if len(queued) > 0 {
		logger.Infof("socket: flushed %d queued events", len(queued))
	}

	logger.Infof("socket: connected")
	c.bus.Publish(bus.ConnectedEvent{})
}

func (c *Client) onDisconnected(reason string) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.state = StateDisconnected
	c.mu.Unlock()

	logger.Infof("socket: disconnected: %s", reason)
	c.bus.Publish(bus.DisconnectedEvent{Reason: reason})
}

func (c *Client) onReconnectAttempt() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	c.mu.Unlock()

	logger.Infof("socket: reconnect attempt %d", attempt)

	// Reconnection handshakes need fresh credentials too.
	if c.tokens.IsExpired() {
		if token, err := c.tokens.Refresh(context.Background()); err == nil {
			c.transport.SetToken(token)
		} else {
			logger.Warnf("socket: token refresh during reconnect failed: %v", err)
		}
	} else if token, ok := c.tokens.AccessToken(); ok {
		c.transport.SetToken(token)
	}

	c.bus.Publish(bus.ReconnectingEvent{Attempt: attempt})
}

func (c *Client) onReconnectFailed() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.state = StateFailed
	lastError := c.lastError
	c.mu.Unlock()

	logger.Errorf("socket: reconnection attempts exhausted")
	c.bus.Publish(bus.ConnectionFailedEvent{LastError: lastError})
	c.bus.Publish(bus.ToastEvent{Message: "Connection lost. Tap to retry.", Kind: "error"})
}

// forceReconnect tears the connection down after a missed pong and dials
// again. Half-open TCP connections never deliver a disconnect event on their
// own.
func (c *Client) forceReconnect() {
	c.mu.Lock()
	if c.destroyed || c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.state = StateDisconnected
	c.lastError = "heartbeat timeout"
	transport := c.transport
	c.mu.Unlock()

	logger.Warnf("socket: no pong within %s, forcing reconnect", c.effectivePongTimeout())
	c.bus.Publish(bus.DisconnectedEvent{Reason: "heartbeat timeout"})

	transport.Close()
	if err := c.Connect(context.Background()); err != nil {
		logger.Errorf("socket: reconnect after heartbeat timeout failed: %v", err)
	}
}

func (c *Client) startHeartbeatLocked() {
	if c.hb != nil {
		c.hb.stop()
	}
	transport := c.transport
	c.hb = newHeartbeat(c.pingInterval, c.pongTimeout,
		func() {
			if err := transport.Emit(EventPing, time.Now().UnixMilli()); err != nil {
				logger.Warnf("socket: ping failed: %v", err)
			}
		},
		c.forceReconnect,
	)
	c.hb.start()
}

func (c *Client) stopHeartbeatLocked() {
	if c.hb != nil {
		c.hb.stop()
		c.hb = nil
	}
}

func (c *Client) effectivePongTimeout() time.Duration {
	if c.pongTimeout > 0 {
		return c.pongTimeout
	}
	return defaultPongTimeout
}

// bridgeOrderStatus republishes an orderStatusUpdate frame on the bus.
// Malformed frames are logged and dropped; one bad frame must not tear down
// the connection.
func (c *Client) bridgeOrderStatus(args []any) {
	var update types.OrderStatusUpdate
	if err := decodePayload(args, &update); err != nil {
		logger.Warnf("socket: dropping malformed orderStatusUpdate: %v", err)
		return
	}
	if err := update.Validate(); err != nil {
		logger.Warnf("socket: dropping malformed orderStatusUpdate: %v", err)
		return
	}
	c.bus.Publish(bus.OrderStatusEvent{Update: update})
}

func (c *Client) bridgeNotification(args []any) {
	var notification types.Notification
	if err := decodePayload(args, &notification); err != nil {
		logger.Warnf("socket: dropping malformed notification: %v", err)
		return
	}
	if err := notification.Validate(); err != nil {
		logger.Warnf("socket: dropping malformed notification: %v", err)
		return
	}
	c.bus.Publish(bus.NotificationEvent{Notification: notification})
}

// decodePayload converts the first event argument into the target DTO.
func decodePayload(args []any, target any) error {
	if len(args) == 0 {
		return errors.New("missing payload")
	}
	encoded, err := json.Marshal(args[0])
	if err != nil {
		return err
	}
	return json.Unmarshal(encoded, target)
}

// stringFromArgs extracts the conventional first string argument (disconnect
// reason, error message).
func stringFromArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	switch v := args[0].(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return ""
	}
}
