package socket

import (
	"sync"
	"time"

	"github.com/savorly/partnerlink/pkg/logger"
)

// defaultQueueCapacity bounds the offline queue so a long outage cannot grow
// memory without limit. Overflow drops the oldest entry.
const defaultQueueCapacity = 256

// queuedEvent is one outbound emit buffered while disconnected.
type queuedEvent struct {
	Name       string
	Payload    any
	EnqueuedAt time.Time
}

// eventQueue is a capacity-bounded FIFO of outbound events.
type eventQueue struct {
	mu       sync.Mutex
	items    []queuedEvent
	capacity int
}

func newEventQueue(capacity int) *eventQueue {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &eventQueue{capacity: capacity}
}

// push appends an event, evicting the oldest entry when full.
func (q *eventQueue) push(event queuedEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		logger.Warnf("socket: offline queue full, dropping oldest event %q", dropped.Name)
	}
	q.items = append(q.items, event)
}

// drain removes and returns every queued event in enqueue order.
func (q *eventQueue) drain() []queuedEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items
}

// clear discards all queued events.
func (q *eventQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
