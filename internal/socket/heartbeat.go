package socket

import (
	"sync"
	"time"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

// heartbeat emits a ping on every interval tick and expects a pong within
// timeout. A missed pong marks the connection stale, which catches half-open
// TCP connections that mobile networks produce silently.
type heartbeat struct {
	interval time.Duration
	timeout  time.Duration
	ping     func()
	onStale  func()

	pongCh chan struct{}

	mu     sync.Mutex
	stopCh chan struct{}
}

func newHeartbeat(interval, timeout time.Duration, ping, onStale func()) *heartbeat {
	if interval <= 0 {
		interval = defaultPingInterval
	}
	if timeout <= 0 {
		timeout = defaultPongTimeout
	}
	return &heartbeat{
		interval: interval,
		timeout:  timeout,
		ping:     ping,
		onStale:  onStale,
		pongCh:   make(chan struct{}, 1),
	}
}

func (h *heartbeat) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh != nil {
		return
	}
	h.stopCh = make(chan struct{})
	go h.run(h.stopCh)
}

// stop halts the loop synchronously enough that no ping fires after return.
func (h *heartbeat) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopCh == nil {
		return
	}
	close(h.stopCh)
	h.stopCh = nil
}

// pong records a pong receipt. Non-blocking; safe from any goroutine.
func (h *heartbeat) pong() {
	select {
	case h.pongCh <- struct{}{}:
	default:
	}
}

func (h *heartbeat) run(stopCh chan struct{}) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var deadline *time.Timer
	var deadlineC <-chan time.Time
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			h.ping()
			if deadline == nil {
				deadline = time.NewTimer(h.timeout)
				deadlineC = deadline.C
			}
		case <-h.pongCh:
			if deadline != nil {
				deadline.Stop()
				deadline = nil
				deadlineC = nil
			}
		case <-deadlineC:
			deadline = nil
			deadlineC = nil
			h.onStale()
			return
		}
	}
}
