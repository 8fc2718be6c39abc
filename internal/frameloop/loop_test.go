package frameloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_TicksAndRunsCommands(t *testing.T) {
	var ticks atomic.Int32
	var last time.Duration
	monotonic := true

	l := New(200, func(now time.Duration) {
		if now < last {
			monotonic = false
		}
		last = now
		ticks.Add(1)
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return ticks.Load() >= 5 }, 2*time.Second, 5*time.Millisecond)

	var sawMonotonic bool
	require.NoError(t, l.Do(context.Background(), func() { sawMonotonic = monotonic }))
	assert.True(t, sawMonotonic)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}

	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrStopped)
}

func TestLoop_DoHonorsContext(t *testing.T) {
	l := New(60, func(time.Duration) {}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Not running: Do blocks until ctx expires.
	err := l.Do(ctx, func() { t.Error("must not run") })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
