package socket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/savorly/partnerlink/internal/bus"
)

type emitRecord struct {
	Event   string
	Payload any
}

// fakeTransport records every transport operation in order so tests can
// assert on the exact wire sequence.
type fakeTransport struct {
	mu      sync.Mutex
	ops     []string
	emits   []emitRecord
	token   string
	handler func(event string, args []any)
	dialErr error
	emitErr error
	live    bool
}

func (f *fakeTransport) Dial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live {
		f.ops = append(f.ops, "close")
	}
	if f.dialErr != nil {
		return f.dialErr
	}
	f.ops = append(f.ops, "dial")
	f.live = true
	return nil
}

func (f *fakeTransport) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.ops = append(f.ops, "emit:"+event)
	f.emits = append(f.emits, emitRecord{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) EmitWithAck(event string, payload any, timeout time.Duration) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "ack:"+event)
	return map[string]any{"ok": true}, nil
}

func (f *fakeTransport) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeTransport) OnEvent(fn func(event string, args []any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.live {
		f.ops = append(f.ops, "close")
		f.live = false
	}
}

// fire delivers an event through the registered sink, the way the real
// transport dispatches from its read loop.
func (f *fakeTransport) fire(event string, args ...any) {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(event, args)
	}
}

func (f *fakeTransport) emitted(event string) []emitRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitRecord
	for _, rec := range f.emits {
		if rec.Event == event {
			out = append(out, rec)
		}
	}
	return out
}

func (f *fakeTransport) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

type fakeTokens struct {
	mu         sync.Mutex
	token      string
	expired    bool
	refreshErr error
	refreshes  int
}

func (f *fakeTokens) AccessToken() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.token != ""
}

func (f *fakeTokens) IsExpired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired
}

func (f *fakeTokens) Refresh(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return "", f.refreshErr
	}
	f.expired = false
	f.token = "refreshed-token"
	return f.token, nil
}

func newTestClient(t *testing.T) (*Client, *fakeTransport, *fakeTokens, *bus.Bus) {
	t.Helper()
	ft := &fakeTransport{}
	tokens := &fakeTokens{token: "access-token"}
	b := bus.New()
	c := NewClient(ft, tokens, b)
	t.Cleanup(c.Destroy)
	return c, ft, tokens, b
}

func connect(t *testing.T, c *Client, ft *fakeTransport) {
	t.Helper()
	require.NoError(t, c.Connect(context.Background()))
	ft.fire(EventConnect)
	require.True(t, c.Status().IsConnected)
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	dials := 0
	for _, op := range ft.opLog() {
		if op == "dial" {
			dials++
		}
	}
	require.Equal(t, 1, dials)
}

func TestConnectRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	c, ft, tokens, _ := newTestClient(t)
	tokens.expired = true

	connect(t, c, ft)

	require.Equal(t, 1, tokens.refreshes)
	require.Equal(t, "refreshed-token", ft.token)
}

func TestConnectRefreshFailurePublishesTokenExpired(t *testing.T) {
	t.Parallel()

	c, ft, tokens, b := newTestClient(t)
	tokens.token = ""
	tokens.refreshErr = errors.New("refresh token revoked")

	events, cancel := b.Subscribe(bus.TopicTokenExpired)
	defer cancel()

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.False(t, c.Status().IsConnecting)
	require.Empty(t, ft.opLog(), "must not dial without credentials")

	select {
	case event := <-events:
		expired, ok := event.(bus.TokenExpiredEvent)
		require.True(t, ok)
		require.Equal(t, "refresh token revoked", expired.Reason)
	case <-time.After(time.Second):
		t.Fatal("no token expired event published")
	}
}

func TestJoinRoomIsIdempotent(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)

	require.NoError(t, c.JoinRoom("order-42"))
	require.NoError(t, c.JoinRoom("order-42"))
	require.NoError(t, c.JoinRoom("order-42"))

	require.Len(t, ft.emitted(EventJoinRoom), 1)
	require.Equal(t, []string{"order-42"}, c.Rooms())
}

func TestLeaveUntrackedRoomIsNoop(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)

	require.NoError(t, c.LeaveRoom("order-99"))
	require.Empty(t, ft.emitted(EventLeaveRoom))
}

func TestOfflineEmitsFlushInOrderExactlyOnce(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)

	require.NoError(t, c.Emit("first", 1))
	require.NoError(t, c.Emit("second", 2))
	require.NoError(t, c.Emit("third", 3))
	require.Empty(t, ft.opLog(), "nothing reaches the wire while disconnected")

	connect(t, c, ft)

	require.Equal(t, []emitRecord{
		{Event: "first", Payload: 1},
		{Event: "second", Payload: 2},
		{Event: "third", Payload: 3},
	}, ft.emits)

	// A second reconnect must not replay anything.
	ft.fire(EventDisconnect, "transport close")
	ft.fire(EventConnect)
	require.Len(t, ft.emits, 3)
}

func TestOfflineJoinIsNotDoubleSent(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)

	require.NoError(t, c.JoinRoom("partner-7"))
	require.NoError(t, c.Emit("orderReady", "o-1"))

	connect(t, c, ft)

	// Membership rejoin covers the room; the queued join is skipped.
	require.Len(t, ft.emitted(EventJoinRoom), 1)
	require.Len(t, ft.emitted("orderReady"), 1)
}

func TestRoomsRejoinedAfterReconnect(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)

	require.NoError(t, c.JoinRoom("partner-7"))
	require.NoError(t, c.JoinRoom("order-42"))

	ft.fire(EventDisconnect, "transport error")
	require.False(t, c.Status().IsConnected)
	require.Len(t, c.Rooms(), 2, "membership survives disconnects")

	ft.fire(EventReconnect)

	joins := ft.emitted(EventJoinRoom)
	require.Len(t, joins, 4)
	// Rejoin order is deterministic.
	require.Equal(t, "order-42", joins[2].Payload)
	require.Equal(t, "partner-7", joins[3].Payload)
}

func TestReconnectAttemptsTrackedAndCapped(t *testing.T) {
	t.Parallel()

	c, ft, _, b := newTestClient(t)
	connect(t, c, ft)
	ft.fire(EventDisconnect, "transport error")

	events, cancel := b.Subscribe(bus.TopicConnectionFailed, bus.TopicToast)
	defer cancel()

	for i := 0; i < maxReconnectAttempts; i++ {
		ft.fire(EventReconnectAttempt)
	}
	status := c.Status()
	require.True(t, status.IsReconnecting)
	require.Equal(t, uint32(maxReconnectAttempts), status.ReconnectAttempts)

	ft.fire(EventConnectError, "dial tcp: connection refused")
	ft.fire(EventReconnectFailed)

	status = c.Status()
	require.False(t, status.IsConnected)
	require.False(t, status.IsReconnecting)
	require.Equal(t, "dial tcp: connection refused", status.LastError)

	failed := <-events
	require.IsType(t, bus.ConnectionFailedEvent{}, failed)
	toast := <-events
	require.IsType(t, bus.ToastEvent{}, toast)
}

func TestReconnectSuccessResetsCounters(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)

	ft.fire(EventDisconnect, "transport error")
	ft.fire(EventReconnectAttempt)
	ft.fire(EventReconnectAttempt)
	ft.fire(EventReconnect)

	status := c.Status()
	require.True(t, status.IsConnected)
	require.Zero(t, status.ReconnectAttempts)
	require.Empty(t, status.LastError)
}

func TestDisconnectThenConnectClosesBeforeDialing(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)

	c.Disconnect()
	require.False(t, c.Status().IsConnected)

	require.NoError(t, c.Connect(context.Background()))
	require.Equal(t, []string{"dial", "close", "dial"}, ft.opLog())
}

func TestMalformedOrderStatusUpdateIsDropped(t *testing.T) {
	t.Parallel()

	c, ft, _, b := newTestClient(t)
	connect(t, c, ft)

	events, cancel := b.Subscribe(bus.TopicOrderStatus)
	defer cancel()

	ft.fire(EventOrderStatusUpdate)
	ft.fire(EventOrderStatusUpdate, "not an object")
	ft.fire(EventOrderStatusUpdate, map[string]any{"status": "preparing"})

	select {
	case event := <-events:
		t.Fatalf("malformed frame must not reach the bus, got %#v", event)
	case <-time.After(50 * time.Millisecond):
	}
	require.True(t, c.Status().IsConnected, "bad frames must not affect the connection")
}

func TestOrderStatusUpdateBridgedToBus(t *testing.T) {
	t.Parallel()

	c, ft, _, b := newTestClient(t)
	connect(t, c, ft)

	events, cancel := b.Subscribe(bus.TopicOrderStatus)
	defer cancel()

	ft.fire(EventOrderStatusUpdate, map[string]any{
		"orderId":   "o-123",
		"status":    "out_for_delivery",
		"timestamp": 1700000000,
	})

	select {
	case event := <-events:
		update, ok := event.(bus.OrderStatusEvent)
		require.True(t, ok)
		require.Equal(t, "o-123", update.Update.OrderID)
		require.Equal(t, "out_for_delivery", update.Update.Status)
	case <-time.After(time.Second):
		t.Fatal("order status update not bridged")
	}
}

func TestNotificationBridgedToBus(t *testing.T) {
	t.Parallel()

	c, ft, _, b := newTestClient(t)
	connect(t, c, ft)

	events, cancel := b.Subscribe(bus.TopicNotification)
	defer cancel()

	ft.fire(EventNotification, map[string]any{
		"id":      "n-1",
		"message": "New order received",
		"type":    "order_status",
	})

	select {
	case event := <-events:
		notification, ok := event.(bus.NotificationEvent)
		require.True(t, ok)
		require.Equal(t, "n-1", notification.Notification.ID)
	case <-time.After(time.Second):
		t.Fatal("notification not bridged")
	}
}

func TestEmitWithAckRequiresConnection(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)

	_, err := c.EmitWithAck("orderReady", "o-1", time.Second)
	require.Error(t, err)

	connect(t, c, ft)
	resp, err := c.EmitWithAck("orderReady", "o-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, resp)
}

func TestDestroyTearsDownEverything(t *testing.T) {
	t.Parallel()

	c, ft, _, _ := newTestClient(t)
	connect(t, c, ft)
	require.NoError(t, c.JoinRoom("partner-7"))

	c.Destroy()

	require.Error(t, c.Emit("orderReady", "o-1"))
	require.Error(t, c.JoinRoom("order-1"))
	require.ErrorIs(t, c.Connect(context.Background()), ErrDestroyed)
	require.Empty(t, c.Rooms())
	require.False(t, ft.Connected())

	ft.mu.Lock()
	handler := ft.handler
	ft.mu.Unlock()
	require.Nil(t, handler, "listeners must be detached")

	c.Destroy() // second call is a no-op
}

func TestHeartbeatTimeoutForcesReconnect(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	tokens := &fakeTokens{token: "access-token"}
	b := bus.New()
	c := NewClientWithConfig(ft, tokens, b, Config{
		PingInterval: 20 * time.Millisecond,
		PongTimeout:  20 * time.Millisecond,
	})
	t.Cleanup(c.Destroy)

	events, cancel := b.Subscribe(bus.TopicDisconnected)
	defer cancel()

	connect(t, c, ft)

	// No pong ever arrives, so the monitor tears the connection down and
	// redials.
	select {
	case event := <-events:
		disconnected, ok := event.(bus.DisconnectedEvent)
		require.True(t, ok)
		require.Equal(t, "heartbeat timeout", disconnected.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat timeout never fired")
	}

	require.Eventually(t, func() bool {
		dials := 0
		for _, op := range ft.opLog() {
			if op == "dial" {
				dials++
			}
		}
		return dials >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPongKeepsConnectionAlive(t *testing.T) {
	t.Parallel()

	ft := &fakeTransport{}
	tokens := &fakeTokens{token: "access-token"}
	b := bus.New()
	c := NewClientWithConfig(ft, tokens, b, Config{
		PingInterval: 15 * time.Millisecond,
		PongTimeout:  40 * time.Millisecond,
	})
	t.Cleanup(c.Destroy)

	connect(t, c, ft)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			ft.fire(EventPong)
			time.Sleep(10 * time.Millisecond)
		}
	}()
	<-done

	require.True(t, c.Status().IsConnected)
}
