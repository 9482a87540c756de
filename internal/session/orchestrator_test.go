package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/savorly/partnerlink/internal/bus"
	"github.com/savorly/partnerlink/pkg/types"
)

type fakeConnector struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	joins       []string
	leaves      []string
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeConnector) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeConnector) JoinRoom(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, room)
	return nil
}

func (f *fakeConnector) LeaveRoom(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves = append(f.leaves, room)
	return nil
}

func (f *fakeConnector) snapshot() (int, int, []string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects,
		append([]string(nil), f.joins...), append([]string(nil), f.leaves...)
}

type fakeTokenStore struct {
	clears atomic.Int32
}

func (f *fakeTokenStore) ClearAll() error {
	f.clears.Add(1)
	return nil
}

func TestSetIdentityJoinsPartnerRoomAndConnects(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	tokens := &fakeTokenStore{}
	o := New(connector, tokens, bus.New())

	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))

	connects, _, joins, _ := connector.snapshot()
	require.Equal(t, 1, connects)
	require.Equal(t, []string{"partner-p-1"}, joins)
	require.Equal(t, "p-1", o.Identity().PartnerID)
}

func TestSetIdentitySwitchesPartnerRooms(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	o := New(connector, &fakeTokenStore{}, bus.New())

	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))
	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-2"}))

	_, _, joins, leaves := connector.snapshot()
	require.Equal(t, []string{"partner-p-1", "partner-p-2"}, joins)
	require.Equal(t, []string{"partner-p-1"}, leaves)
}

func TestNilIdentityLogsOut(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	tokens := &fakeTokenStore{}
	o := New(connector, tokens, bus.New())

	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))
	require.NoError(t, o.SetIdentity(context.Background(), nil))

	_, disconnects, _, leaves := connector.snapshot()
	require.Equal(t, 1, disconnects)
	require.Equal(t, []string{"partner-p-1"}, leaves)
	require.Equal(t, int32(1), tokens.clears.Load())
	require.Nil(t, o.Identity())
}

func TestWatchAndUnwatchOrder(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	o := New(connector, &fakeTokenStore{}, bus.New())

	require.NoError(t, o.WatchOrder("o-42"))
	require.NoError(t, o.UnwatchOrder("o-42"))

	_, _, joins, leaves := connector.snapshot()
	require.Equal(t, []string{"order-o-42"}, joins)
	require.Equal(t, []string{"order-o-42"}, leaves)
}

func TestRepeatedLogoutTearsDownOnce(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	tokens := &fakeTokenStore{}
	o := New(connector, tokens, bus.New())
	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Logout()
		}()
	}
	wg.Wait()

	_, disconnects, _, _ := connector.snapshot()
	require.Equal(t, 1, disconnects)
	require.Equal(t, int32(1), tokens.clears.Load())
}

func TestDuplicateTokenExpiredEventsLogOutOnce(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	tokens := &fakeTokenStore{}
	b := bus.New()
	o := New(connector, tokens, b)
	o.Start()
	defer o.Stop()

	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))

	// Both the connect path and the reconnect path can observe the same
	// revoked refresh token and publish independently.
	b.Publish(bus.TokenExpiredEvent{Reason: "refresh token revoked"})
	b.Publish(bus.TokenExpiredEvent{Reason: "refresh token revoked"})

	require.Eventually(t, func() bool {
		_, disconnects, _, _ := connector.snapshot()
		return disconnects >= 1
	}, time.Second, 5*time.Millisecond)

	// Give the second event time to be (not) acted on.
	time.Sleep(50 * time.Millisecond)
	_, disconnects, _, _ := connector.snapshot()
	require.Equal(t, 1, disconnects)
	require.Equal(t, int32(1), tokens.clears.Load())
}

func TestLoginAfterLogoutWorks(t *testing.T) {
	t.Parallel()

	connector := &fakeConnector{}
	tokens := &fakeTokenStore{}
	o := New(connector, tokens, bus.New())

	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))
	o.Logout()
	require.NoError(t, o.SetIdentity(context.Background(), &types.Identity{PartnerID: "p-1"}))

	connects, disconnects, joins, _ := connector.snapshot()
	require.Equal(t, 2, connects)
	require.Equal(t, 1, disconnects)
	require.Equal(t, []string{"partner-p-1", "partner-p-1"}, joins)

	o.Logout()
	require.Equal(t, int32(2), tokens.clears.Load())
}
