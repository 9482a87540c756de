// Package bus is the typed application-wide event channel bridging the
// realtime core to UI-side consumers.
//
// It replaces a stringly-typed ambient emitter with a fixed Topic enum and
// concrete event structs, so payload shapes are enforced by the compiler
// instead of by convention.
package bus

import (
	"sync"

	"github.com/savorly/partnerlink/pkg/logger"
	"github.com/savorly/partnerlink/pkg/types"
)

// Topic identifies one event stream on the bus.
type Topic string

const (
	TopicConnected        Topic = "socket:connected"
	TopicDisconnected     Topic = "socket:disconnected"
	TopicReconnecting     Topic = "socket:reconnecting"
	TopicConnectionFailed Topic = "socket:connectionFailed"
	TopicOrderStatus      Topic = "socket:orderStatusUpdate"
	TopicNotification     Topic = "socket:notification"
	TopicToast            Topic = "app:toast"
	TopicTokenExpired     Topic = "auth:tokenExpired"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Topic() Topic
}

// ConnectedEvent reports that the socket reached the Connected state.
type ConnectedEvent struct{}

func (ConnectedEvent) Topic() Topic { return TopicConnected }

// DisconnectedEvent reports a socket disconnect with the transport reason.
type DisconnectedEvent struct {
	Reason string
}

func (DisconnectedEvent) Topic() Topic { return TopicDisconnected }

// ReconnectingEvent reports an automatic reconnection attempt.
type ReconnectingEvent struct {
	Attempt uint32
}

func (ReconnectingEvent) Topic() Topic { return TopicReconnecting }

// ConnectionFailedEvent reports that reconnection attempts are exhausted and
// a manual connect is required.
type ConnectionFailedEvent struct {
	LastError string
}

func (ConnectionFailedEvent) Topic() Topic { return TopicConnectionFailed }

// OrderStatusEvent carries an inbound orderStatusUpdate frame.
type OrderStatusEvent struct {
	Update types.OrderStatusUpdate
}

func (OrderStatusEvent) Topic() Topic { return TopicOrderStatus }

// NotificationEvent carries an inbound notification frame.
type NotificationEvent struct {
	Notification types.Notification
}

func (NotificationEvent) Topic() Topic { return TopicNotification }

// ToastEvent requests a non-blocking toast/banner in the UI.
type ToastEvent struct {
	Message string
	// Kind is one of info|warning|error.
	Kind string
}

func (ToastEvent) Topic() Topic { return TopicToast }

// TokenExpiredEvent signals that the session credentials are no longer
// usable. Consumed by the orchestrator, which turns it into one logout.
type TokenExpiredEvent struct {
	Reason string
}

func (TokenExpiredEvent) Topic() Topic { return TopicTokenExpired }

// defaultBuffer is the per-subscriber channel capacity.
const defaultBuffer = 64

type subscriber struct {
	topics map[Topic]struct{} // empty means all topics
	ch     chan Event
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber that
// falls behind loses events (with a warning) rather than stalling the
// publisher.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*subscriber
	buffer int
}

// New creates a bus with the default per-subscriber buffer.
func New() *Bus {
	return NewWithBuffer(defaultBuffer)
}

// NewWithBuffer creates a bus with the given per-subscriber buffer.
func NewWithBuffer(buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns a channel delivering events for the given topics (all
// topics when none are named) and a cancel function that closes it.
func (b *Bus) Subscribe(topics ...Topic) (<-chan Event, func()) {
	sub := &subscriber{
		topics: make(map[Topic]struct{}, len(topics)),
		ch:     make(chan Event, b.buffer),
	}
	for _, topic := range topics {
		sub.topics[topic] = struct{}{}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without blocking.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if len(sub.topics) > 0 {
			if _, ok := sub.topics[event.Topic()]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			logger.Warnf("bus: dropping %s event for slow subscriber", event.Topic())
		}
	}
}
