// Package tts provides the MaryTTS client that fetches synthesized audio and
// realised phoneme durations for a single utterance.
package tts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrTransport     = errors.New("tts transport error")
	ErrVoiceNotFound = errors.New("voice not found")
	ErrEmptyText     = errors.New("text is empty")
	ErrEmptyBody     = errors.New("empty response body")
)

// Step identifies which request of an utterance failed.
type Step string

const (
	StepAudio  Step = "audio"
	StepTiming Step = "timing"
	StepVoices Step = "voices"
	StepHealth Step = "health"
)

// TransportError reports a network or HTTP failure on one of the requests to
// the TTS server. errors.Is(err, ErrTransport) holds for every TransportError.
type TransportError struct {
	Step   Step
	URL    string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch failed with status %d: %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch failed: %v", e.Step, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Voice is a MaryTTS voice and the locale it speaks.
type Voice struct {
	Name   string `json:"name" mapstructure:"name"`
	Locale string `json:"locale" mapstructure:"locale"`
	Gender string `json:"gender,omitempty" mapstructure:"gender"`
	Type   string `json:"type,omitempty" mapstructure:"type"`
}

// Utterance is one speak request. It is immutable once built and lives for
// the duration of one fetch chain.
type Utterance struct {
	ID          string
	Text        string
	Voice       Voice
	ExtraParams string // appended verbatim to every request URL
}

// NewUtterance builds an utterance with a fresh ID.
func NewUtterance(text string, voice Voice, extraParams string) Utterance {
	return Utterance{
		ID:          uuid.NewString(),
		Text:        text,
		Voice:       voice,
		ExtraParams: extraParams,
	}
}

// Fetcher issues the two requests of an utterance.
type Fetcher interface {
	// FetchAudio returns the synthesized waveform (WAV).
	FetchAudio(ctx context.Context, u Utterance) ([]byte, error)

	// FetchTiming returns the realised durations for the same utterance.
	FetchTiming(ctx context.Context, u Utterance) ([]byte, error)
}
