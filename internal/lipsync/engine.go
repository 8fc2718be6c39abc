// Package lipsync turns TTS timing payloads into per-viseme weight curves
// that can be sampled once per frame.
package lipsync

import (
	"errors"
	"time"
)

// ErrMalformedTimingData is returned by Engine.Parse when the payload cannot
// be interpreted.
var ErrMalformedTimingData = errors.New("malformed timing data")

// Engine converts a timing payload into a weight time-series. Implementations
// are not safe for concurrent use; the driver owns its engine.
type Engine interface {
	// Parse replaces the current series. The engine is not playing until Reset.
	Parse(payload []byte) error

	// Reset rewinds playback so that now is elapsed zero, and starts playing.
	Reset(now time.Duration)

	// Sample writes the weight of every tracked viseme into out, indexed like
	// Visemes(). now must be non-decreasing between calls.
	Sample(now time.Duration, out []float32)

	// IsPlaying is true until the series is exhausted or Stop is called.
	IsPlaying() bool

	// Stop halts playback; later samples settle to zero.
	Stop()

	// Visemes returns the tracked viseme names. Fixed for the engine's lifetime.
	Visemes() []string
}
