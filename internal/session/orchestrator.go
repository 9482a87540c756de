// Package session ties the authenticated identity to the realtime
// connection: login establishes the socket and the partner room, logout and
// irrecoverable token failures tear both down exactly once.
package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/savorly/partnerlink/internal/bus"
	"github.com/savorly/partnerlink/internal/socket"
	"github.com/savorly/partnerlink/pkg/logger"
	"github.com/savorly/partnerlink/pkg/types"
)

// Connector is the realtime surface the orchestrator drives. The socket
// client implements it.
type Connector interface {
	Connect(ctx context.Context) error
	Disconnect()
	JoinRoom(room string) error
	LeaveRoom(room string) error
}

// TokenStore is the credential surface the orchestrator clears on logout.
type TokenStore interface {
	ClearAll() error
}

// Orchestrator keeps the socket lifecycle in sync with authentication state.
type Orchestrator struct {
	connector Connector
	tokens    TokenStore
	bus       *bus.Bus

	mu       sync.Mutex
	identity *types.Identity
	stop     func()

	// loggingOut collapses concurrent logout triggers (user action plus a
	// token-expired event racing in) into a single teardown.
	loggingOut atomic.Bool
}

// New creates an orchestrator. Call Start to react to token expiry events.
func New(connector Connector, tokens TokenStore, b *bus.Bus) *Orchestrator {
	return &Orchestrator{
		connector: connector,
		tokens:    tokens,
		bus:       b,
	}
}

// Start subscribes to token expiry events. Idempotent.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stop != nil {
		return
	}

	events, cancel := o.bus.Subscribe(bus.TopicTokenExpired)
	done := make(chan struct{})
	o.stop = func() {
		cancel()
		<-done
	}

	go func() {
		defer close(done)
		for event := range events {
			expired, ok := event.(bus.TokenExpiredEvent)
			if !ok {
				continue
			}
			logger.Warnf("session: token expired: %s", expired.Reason)
			o.Logout()
		}
	}()
}

// Stop unsubscribes from the bus. The current session is left as is.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	stop := o.stop
	o.stop = nil
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// SetIdentity switches the session to the given partner. A nil identity is
// a logout. Switching partners swaps the partner room; the socket client
// queues the joins when offline, so this is safe to call before the
// connection is up.
func (o *Orchestrator) SetIdentity(ctx context.Context, identity *types.Identity) error {
	if identity == nil {
		o.Logout()
		return nil
	}

	o.mu.Lock()
	previous := o.identity
	o.identity = identity
	o.mu.Unlock()

	o.loggingOut.Store(false)

	if previous != nil && previous.PartnerID != identity.PartnerID {
		if err := o.connector.LeaveRoom(socket.PartnerRoom(previous.PartnerID)); err != nil {
			logger.Warnf("session: leaving %s failed: %v", socket.PartnerRoom(previous.PartnerID), err)
		}
	}
	if err := o.connector.JoinRoom(socket.PartnerRoom(identity.PartnerID)); err != nil {
		return err
	}
	return o.connector.Connect(ctx)
}

// Identity returns the current partner identity, if any.
func (o *Orchestrator) Identity() *types.Identity {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.identity
}

// WatchOrder subscribes to realtime updates for one order.
func (o *Orchestrator) WatchOrder(orderID string) error {
	return o.connector.JoinRoom(socket.OrderRoom(orderID))
}

// UnwatchOrder drops the order subscription.
func (o *Orchestrator) UnwatchOrder(orderID string) error {
	return o.connector.LeaveRoom(socket.OrderRoom(orderID))
}

// Logout leaves the partner room, disconnects and wipes stored credentials.
// Concurrent and repeated calls perform the teardown once.
func (o *Orchestrator) Logout() {
	if !o.loggingOut.CompareAndSwap(false, true) {
		return
	}

	o.mu.Lock()
	identity := o.identity
	o.identity = nil
	o.mu.Unlock()

	if identity != nil {
		// Best effort; the server drops memberships on disconnect anyway.
		if err := o.connector.LeaveRoom(socket.PartnerRoom(identity.PartnerID)); err != nil {
			logger.Debugf("session: leave on logout: %v", err)
		}
	}
	o.connector.Disconnect()
	if err := o.tokens.ClearAll(); err != nil {
		logger.Errorf("session: clearing credentials failed: %v", err)
	}
	logger.Infof("session: logged out")
}
