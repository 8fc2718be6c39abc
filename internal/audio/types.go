// Package audio plays TTS waveforms for the speech driver.
package audio

import (
	"errors"
	"time"
)

// Common errors
var (
	ErrInvalidFormat     = errors.New("invalid audio format")
	ErrNothingLoaded     = errors.New("no clip loaded")
	ErrDeviceUnavailable = errors.New("audio device unavailable")
)

// Config holds audio output configuration
type Config struct {
	Enabled    bool    `mapstructure:"enabled" json:"enabled"`
	SampleRate int     `mapstructure:"sample_rate" json:"sample_rate"` // speaker rate; clips are resampled to it
	Volume     float64 `mapstructure:"volume" json:"volume"`           // 0.0 to 1.0
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Enabled:    true,
		SampleRate: 44100,
		Volume:     1.0,
	}
}

// Clip describes a loaded waveform.
type Clip struct {
	SampleRate int
	Channels   int
	Duration   time.Duration
}
