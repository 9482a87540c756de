package netwatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnOfflineToOnlineTransition(t *testing.T) {
	t.Parallel()

	var online atomic.Bool
	var fired atomic.Int32

	w := New(func(ctx context.Context) bool { return online.Load() }, 10*time.Millisecond)
	w.SetOnOnline(func() { fired.Add(1) })
	w.Start()
	defer w.Stop()

	// Stay offline for a few polls: no transitions.
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 0, fired.Load())

	online.Store(true)
	require.Eventually(t, func() bool {
		return fired.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Staying online produces no further callbacks.
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, fired.Load())
}

func TestWatcherFiresAgainAfterEachOutage(t *testing.T) {
	t.Parallel()

	var online atomic.Bool
	online.Store(true)
	var fired atomic.Int32

	w := New(func(ctx context.Context) bool { return online.Load() }, 10*time.Millisecond)
	w.SetOnOnline(func() { fired.Add(1) })
	w.Start()
	defer w.Stop()

	online.Store(false)
	time.Sleep(50 * time.Millisecond)
	online.Store(true)
	require.Eventually(t, func() bool { return fired.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	online.Store(false)
	time.Sleep(50 * time.Millisecond)
	online.Store(true)
	require.Eventually(t, func() bool { return fired.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartStopAreIdempotent(t *testing.T) {
	t.Parallel()

	w := New(func(ctx context.Context) bool { return true }, 10*time.Millisecond)
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestProbeAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "httpsDefaultPort", url: "https://api.savorly.app", want: "api.savorly.app:443"},
		{name: "httpDefaultPort", url: "http://localhost", want: "localhost:80"},
		{name: "explicitPort", url: "http://localhost:8080", want: "localhost:8080"},
		{name: "garbage", url: "::not-a-url::", want: ""},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, probeAddress(tt.url))
		})
	}
}
