package audio

import (
	"bytes"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/rs/zerolog"
)

// SpeakerOutput plays WAV clips on the default sound device. It owns at most
// one clip at a time.
type SpeakerOutput struct {
	config *Config
	logger zerolog.Logger
	rate   beep.SampleRate

	initOnce sync.Once
	initErr  error

	streamer beep.StreamSeekCloser
	chain    beep.Streamer
	ctrl     *beep.Ctrl
	clip     Clip
	playID   atomic.Uint64
	playing  atomic.Bool
}

// NewSpeakerOutput creates an output; the device is opened on first Play.
func NewSpeakerOutput(config *Config, logger zerolog.Logger) *SpeakerOutput {
	if config == nil {
		config = DefaultConfig()
	}
	return &SpeakerOutput{
		config: config,
		logger: logger.With().Str("component", "speaker").Logger(),
		rate:   beep.SampleRate(config.SampleRate),
	}
}

func (o *SpeakerOutput) init() error {
	o.initOnce.Do(func() {
		if err := speaker.Init(o.rate, o.rate.N(time.Second/10)); err != nil {
			o.initErr = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
			return
		}
		o.logger.Info().Int("sample_rate", int(o.rate)).Msg("Speaker initialized")
	})
	return o.initErr
}

// Load decodes a WAV payload, replacing any previous clip.
func (o *SpeakerOutput) Load(data []byte) error {
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	o.Clear()
	o.streamer = streamer
	o.clip = Clip{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		Duration:   format.SampleRate.D(streamer.Len()),
	}

	var s beep.Streamer = streamer
	if format.SampleRate != o.rate {
		s = beep.Resample(4, format.SampleRate, o.rate, s)
	}
	if o.config.Volume < 1 {
		s = &effects.Volume{Streamer: s, Base: 2, Volume: math.Log2(o.config.Volume), Silent: o.config.Volume <= 0}
	}
	o.chain = s

	o.logger.Debug().
		Dur("duration", o.clip.Duration).
		Int("sample_rate", o.clip.SampleRate).
		Msg("Clip loaded")
	return nil
}

// Play starts the loaded clip from the beginning.
func (o *SpeakerOutput) Play() error {
	if o.chain == nil {
		return ErrNothingLoaded
	}
	if err := o.init(); err != nil {
		return err
	}

	o.Stop()
	speaker.Lock()
	err := o.streamer.Seek(0)
	speaker.Unlock()
	if err != nil {
		return fmt.Errorf("rewind clip: %w", err)
	}

	id := o.playID.Add(1)
	o.ctrl = &beep.Ctrl{Streamer: o.chain}
	o.playing.Store(true)
	speaker.Play(beep.Seq(o.ctrl, beep.Callback(func() {
		if o.playID.Load() == id {
			o.playing.Store(false)
		}
	})))
	return nil
}

// Stop silences the current clip. The clip stays loaded.
func (o *SpeakerOutput) Stop() {
	if o.ctrl == nil {
		return
	}
	speaker.Lock()
	o.ctrl.Paused = true
	o.ctrl.Streamer = nil
	speaker.Unlock()
	o.playing.Store(false)
}

// Clear stops and releases the current clip.
func (o *SpeakerOutput) Clear() {
	o.Stop()
	if o.streamer != nil {
		if err := o.streamer.Close(); err != nil {
			o.logger.Debug().Err(err).Msg("Close clip")
		}
	}
	o.streamer = nil
	o.chain = nil
	o.ctrl = nil
	o.clip = Clip{}
}

// Playing reports whether the device is still consuming the clip.
func (o *SpeakerOutput) Playing() bool {
	return o.playing.Load()
}

// Clip describes the loaded clip; zero when nothing is loaded.
func (o *SpeakerOutput) Clip() Clip {
	return o.clip
}
