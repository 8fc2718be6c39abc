package audio

import (
	"bytes"
	"fmt"

	"github.com/faiface/beep/wav"
)

// NullOutput validates and tracks clips without a sound device. Used for
// headless runs and tests.
type NullOutput struct {
	clip    Clip
	loaded  bool
	playing bool
	plays   int
}

func NewNullOutput() *NullOutput {
	return &NullOutput{}
}

func (o *NullOutput) Load(data []byte) error {
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	defer streamer.Close()

	o.clip = Clip{
		SampleRate: int(format.SampleRate),
		Channels:   format.NumChannels,
		Duration:   format.SampleRate.D(streamer.Len()),
	}
	o.loaded = true
	o.playing = false
	return nil
}

func (o *NullOutput) Play() error {
	if !o.loaded {
		return ErrNothingLoaded
	}
	o.playing = true
	o.plays++
	return nil
}

func (o *NullOutput) Stop() {
	o.playing = false
}

func (o *NullOutput) Clear() {
	o.playing = false
	o.loaded = false
	o.clip = Clip{}
}

func (o *NullOutput) Playing() bool { return o.playing }

func (o *NullOutput) Clip() Clip { return o.clip }

// Plays counts successful Play calls.
func (o *NullOutput) Plays() int { return o.plays }
