package lipsync

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

// maxSegmentEnd is the largest end time, in seconds, that fits a time.Duration.
const maxSegmentEnd = float64(math.MaxInt64) / float64(time.Second)

// Segment is one realised phoneme.
type Segment struct {
	Phoneme string
	Start   time.Duration
	End     time.Duration
}

// ParseRealisedDurations reads a MaryTTS REALISED_DURATIONS payload:
//
//	#
//	0.095 125 _
//	0.185 125 h
//
// Each line carries the segment end time in seconds, a numeric column the
// sequencer ignores, and the phoneme symbol.
func ParseRealisedDurations(payload []byte) ([]Segment, error) {
	var segments []Segment
	var prev time.Duration

	scanner := bufio.NewScanner(bytes.NewReader(payload))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%w: line %d: expected 3 fields, got %d", ErrMalformedTimingData, line, len(fields))
		}

		secs, err := strconv.ParseFloat(fields[0], 64)
		if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return nil, fmt.Errorf("%w: line %d: bad end time %q", ErrMalformedTimingData, line, fields[0])
		}
		if secs < 0 || secs >= maxSegmentEnd {
			return nil, fmt.Errorf("%w: line %d: end time %q out of range", ErrMalformedTimingData, line, fields[0])
		}
		end := time.Duration(secs * float64(time.Second))
		if end < prev {
			return nil, fmt.Errorf("%w: line %d: end time %s before %s", ErrMalformedTimingData, line, end, prev)
		}

		segments = append(segments, Segment{Phoneme: fields[2], Start: prev, End: end})
		prev = end
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTimingData, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments", ErrMalformedTimingData)
	}
	return segments, nil
}

type keyframe struct {
	at     time.Duration
	viseme int // -1 animates nothing
}

// Sequencer is the Engine for MaryTTS realised durations. Every segment puts
// a keyframe at its midpoint and neighbouring keyframes crossfade linearly.
type Sequencer struct {
	profile *Profile
	index   map[string]int
	silence int

	keys    []keyframe
	end     time.Duration
	start   time.Duration
	playing bool
	unknown map[string]int
}

// NewSequencer builds a sequencer for profile, or DefaultProfile when nil.
func NewSequencer(profile *Profile) (*Sequencer, error) {
	if profile == nil {
		profile = DefaultProfile()
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(profile.Visemes))
	for i, v := range profile.Visemes {
		index[v] = i
	}

	silence := -1
	if i, ok := index[profile.Silence]; ok {
		silence = i
	}

	return &Sequencer{
		profile: profile,
		index:   index,
		silence: silence,
		unknown: make(map[string]int),
	}, nil
}

func (s *Sequencer) Parse(payload []byte) error {
	segments, err := ParseRealisedDurations(payload)
	if err != nil {
		return err
	}

	keys := make([]keyframe, 0, len(segments)+2)
	keys = append(keys, keyframe{at: 0, viseme: s.silence})
	for _, seg := range segments {
		keys = append(keys, keyframe{
			at:     seg.Start + (seg.End-seg.Start)/2,
			viseme: s.visemeFor(seg.Phoneme),
		})
	}
	end := segments[len(segments)-1].End
	keys = append(keys, keyframe{at: end, viseme: s.silence})

	s.keys = keys
	s.end = end
	s.playing = false
	return nil
}

func (s *Sequencer) visemeFor(phoneme string) int {
	name, ok := s.profile.Phonemes[phoneme]
	if !ok {
		s.unknown[phoneme]++
		return -1
	}
	return s.index[name]
}

func (s *Sequencer) Reset(now time.Duration) {
	s.start = now
	s.playing = len(s.keys) > 0
}

func (s *Sequencer) Sample(now time.Duration, out []float32) {
	for i := range out {
		out[i] = 0
	}
	if !s.playing {
		return
	}

	elapsed := now - s.start
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= s.end {
		s.playing = false
		return
	}

	// keys[0] sits at zero and the last key at end, so 0 <= k < len-1.
	k := sort.Search(len(s.keys), func(i int) bool { return s.keys[i].at > elapsed }) - 1
	from, to := s.keys[k], s.keys[k+1]

	var alpha float32
	if span := to.at - from.at; span > 0 {
		alpha = float32(elapsed-from.at) / float32(span)
	}
	add(out, from.viseme, 1-alpha)
	add(out, to.viseme, alpha)

	for i := range out {
		out[i] = mgl32.Clamp(out[i], 0, 1)
	}
}

func add(out []float32, viseme int, w float32) {
	if viseme >= 0 && viseme < len(out) {
		out[viseme] += w
	}
}

func (s *Sequencer) IsPlaying() bool {
	return s.playing
}

func (s *Sequencer) Stop() {
	s.playing = false
}

func (s *Sequencer) Visemes() []string {
	out := make([]string, len(s.profile.Visemes))
	copy(out, s.profile.Visemes)
	return out
}

// Duration returns the length of the parsed series.
func (s *Sequencer) Duration() time.Duration {
	return s.end
}

// UnknownPhonemes reports phoneme symbols seen in payloads that the profile
// does not map, with their counts.
func (s *Sequencer) UnknownPhonemes() map[string]int {
	out := make(map[string]int, len(s.unknown))
	for k, v := range s.unknown {
		out[k] = v
	}
	return out
}
