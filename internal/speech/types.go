// Package speech drives lip-synced speech playback: it fetches audio and
// phoneme timing for an utterance, starts playback, and writes viseme weights
// onto animation targets once per frame.
package speech

import (
	"errors"
	"fmt"

	"github.com/normanking/speechsync/internal/tts"
)

// Common errors
var (
	ErrEmptyText              = errors.New("text is empty")
	ErrClosed                 = errors.New("driver closed")
	ErrMissingAnimationTarget = errors.New("missing animation target")
)

// MissingTargetError names a tracked viseme with no animation target.
type MissingTargetError struct {
	Name string
}

func (e *MissingTargetError) Error() string {
	return fmt.Sprintf("no animation target named %q", e.Name)
}

func (e *MissingTargetError) Is(target error) bool { return target == ErrMissingAnimationTarget }

// State is the playback state.
type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StatePlaying    State = "playing"
)

// AudioOutput plays one clip at a time. Load takes ownership of the payload.
type AudioOutput interface {
	Load(data []byte) error
	Play() error
	Stop()
	Clear()
}

// TargetCatalog exposes the weight channels of a mesh.
type TargetCatalog interface {
	ResolveIndex(name string) (int, bool)
	SetWeight(index int, value float32)
}

// Config holds driver configuration
type Config struct {
	Voice       tts.Voice `mapstructure:"voice" json:"voice"`
	ExtraParams string    `mapstructure:"extra_params" json:"extra_params"`

	// Gain multiplies every sampled weight. Values above 1 may push targets
	// past their nominal range.
	Gain float32 `mapstructure:"gain" json:"gain"`

	// WeightScale is the target catalog's full-on weight: 1 for glTF
	// morph targets, 100 for Unity-style blend shapes.
	WeightScale float32 `mapstructure:"weight_scale" json:"weight_scale"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Voice:       tts.Voice{Name: "cmu-slt-hsmm", Locale: "en_US", Gender: "female", Type: "hmm"},
		Gain:        1.0,
		WeightScale: 1.0,
	}
}

// Outcome reports how an applied fetch chain ended. Err is nil when playback
// started.
type Outcome struct {
	Generation  uint64 `json:"generation"`
	UtteranceID string `json:"utterance_id"`
	Text        string `json:"text"`
	State       State  `json:"state"`
	Err         error  `json:"-"`
}

// Status is a point-in-time view of the driver for the control API.
type Status struct {
	State          State     `json:"state"`
	Speaking       bool      `json:"speaking"`
	Generation     uint64    `json:"generation"`
	UtteranceID    string    `json:"utterance_id,omitempty"`
	Text           string    `json:"text,omitempty"`
	Voice          tts.Voice `json:"voice"`
	Gain           float32   `json:"gain"`
	Superseded     uint64    `json:"superseded"`
	MissingTargets []string  `json:"missing_targets,omitempty"`
}
