// Package netwatch observes network reachability and reports offline-to-online
// transitions, which the socket client uses to retry eagerly instead of
// waiting out a backoff window.
//
// There is no portable OS-level reachability signal available to a plain Go
// process, so the watcher polls a cheap TCP probe against the API host.
package netwatch

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/savorly/partnerlink/pkg/logger"
)

const (
	defaultInterval = 10 * time.Second
	probeTimeout    = 3 * time.Second
)

// Probe reports whether the network currently looks reachable.
type Probe func(ctx context.Context) bool

// TCPProbe builds a Probe that dials the host of the given base URL.
func TCPProbe(baseURL string) Probe {
	address := probeAddress(baseURL)
	return func(ctx context.Context) bool {
		if address == "" {
			return false
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

func probeAddress(baseURL string) string {
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		logger.Warnf("netwatch: unusable probe URL %q", baseURL)
		return ""
	}
	host := parsed.Host
	if parsed.Port() == "" {
		switch parsed.Scheme {
		case "http", "ws":
			host = net.JoinHostPort(parsed.Hostname(), "80")
		default:
			host = net.JoinHostPort(parsed.Hostname(), "443")
		}
	}
	return host
}

// Watcher polls a Probe and invokes its handler on offline-to-online
// transitions.
type Watcher struct {
	probe    Probe
	interval time.Duration

	mu       sync.Mutex
	onOnline func()
	running  bool
	stopCh   chan struct{}
}

// New creates a watcher for the given probe. A zero interval uses the
// default.
func New(probe Probe, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Watcher{probe: probe, interval: interval}
}

// SetOnOnline registers the transition handler. Must be called before Start.
func (w *Watcher) SetOnOnline(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onOnline = fn
}

// Start begins polling. Calling Start on a running watcher is a no-op.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	go w.run(w.stopCh)
}

// Stop halts polling. Safe to call multiple times.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
}

func (w *Watcher) run(stopCh chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	online := w.probe(ctx)
	cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
			current := w.probe(ctx)
			cancel()

			if current && !online {
				logger.Infof("netwatch: connectivity restored")
				w.mu.Lock()
				fn := w.onOnline
				w.mu.Unlock()
				if fn != nil {
					fn()
				}
			}
			online = current
		}
	}
}
