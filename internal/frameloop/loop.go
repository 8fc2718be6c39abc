// Package frameloop runs a fixed-rate frame tick and serializes work from
// other goroutines onto it.
package frameloop

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned by Do when the loop is not running.
var ErrStopped = errors.New("frame loop stopped")

// TickFunc is called once per frame with the time since Run started.
type TickFunc func(now time.Duration)

// Loop owns the frame goroutine. Everything the tick touches must only be
// touched from inside the tick or a Do closure.
type Loop struct {
	interval time.Duration
	tick     TickFunc
	commands chan func()
	done     chan struct{}
	logger   zerolog.Logger

	frames int
}

// New creates a loop ticking fps times per second. fps <= 0 means 60.
func New(fps int, tick TickFunc, logger zerolog.Logger) *Loop {
	if fps <= 0 {
		fps = 60
	}
	return &Loop{
		interval: time.Second / time.Duration(fps),
		tick:     tick,
		commands: make(chan func()),
		done:     make(chan struct{}),
		logger:   logger.With().Str("component", "frameloop").Logger(),
	}
}

// Run ticks until ctx is done. It returns nil on cancellation.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	start := time.Now()
	fpsTimer := start
	l.logger.Info().Dur("interval", l.interval).Msg("Frame loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Int("frames", l.frames).Msg("Frame loop ended")
			return nil
		case fn := <-l.commands:
			fn()
		case t := <-ticker.C:
			l.tick(t.Sub(start))
			l.frames++

			if time.Since(fpsTimer) >= 10*time.Second {
				l.logger.Debug().
					Float64("fps", float64(l.frames)/time.Since(start).Seconds()).
					Msg("Frame rate")
				fpsTimer = time.Now()
			}
		}
	}
}

// Do runs fn on the frame goroutine and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case l.commands <- wrapped:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	<-finished
	return nil
}
