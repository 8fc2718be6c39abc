package lipsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloDurations = "#\n0.1 125 _\n0.3 125 p\n0.5 125 a\n"

func TestParseRealisedDurations(t *testing.T) {
	segments, err := ParseRealisedDurations([]byte(helloDurations))
	require.NoError(t, err)
	require.Len(t, segments, 3)

	assert.Equal(t, Segment{Phoneme: "_", Start: 0, End: 100 * time.Millisecond}, segments[0])
	assert.Equal(t, "p", segments[1].Phoneme)
	assert.Equal(t, 100*time.Millisecond, segments[1].Start)
	assert.Equal(t, 500*time.Millisecond, segments[2].End)
}

func TestParseRealisedDurations_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"empty", ""},
		{"header only", "#\n"},
		{"missing fields", "#\n0.1 125\n"},
		{"bad number", "#\nabc 125 a\n"},
		{"decreasing", "#\n0.3 125 a\n0.1 125 b\n"},
		{"html error page", "<html><body>Internal error</body></html>"},
		{"nan", "#\nNaN 125 a\n"},
		{"infinite", "#\n+Inf 125 a\n"},
		{"negative", "#\n-0.5 125 a\n"},
		{"too large", "#\n1e10 125 a\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRealisedDurations([]byte(tt.payload))
			assert.ErrorIs(t, err, ErrMalformedTimingData)
		})
	}
}

func TestParseRealisedDurations_EndTimeMessages(t *testing.T) {
	_, err := ParseRealisedDurations([]byte("NaN 1 a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `line 1: bad end time "NaN"`)

	_, err = ParseRealisedDurations([]byte("1e10 1 a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `line 1: end time "1e10" out of range`)
}

func TestParseRealisedDurations_ZeroLength(t *testing.T) {
	segments, err := ParseRealisedDurations([]byte("#\n0 125 _\n"))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Zero(t, segments[0].End)
}

func newTestSequencer(t *testing.T) (*Sequencer, map[string]int) {
	t.Helper()
	s, err := NewSequencer(nil)
	require.NoError(t, err)

	idx := make(map[string]int)
	for i, v := range s.Visemes() {
		idx[v] = i
	}
	return s, idx
}

func TestSequencer_NotPlayingUntilReset(t *testing.T) {
	s, _ := newTestSequencer(t)
	require.NoError(t, s.Parse([]byte(helloDurations)))

	assert.False(t, s.IsPlaying())
	out := make([]float32, len(s.Visemes()))
	s.Sample(200*time.Millisecond, out)
	for _, w := range out {
		assert.Zero(t, w)
	}
}

func TestSequencer_Sample(t *testing.T) {
	s, idx := newTestSequencer(t)
	require.NoError(t, s.Parse([]byte(helloDurations)))
	assert.Equal(t, 500*time.Millisecond, s.Duration())

	base := 10 * time.Second
	s.Reset(base)
	require.True(t, s.IsPlaying())

	out := make([]float32, len(s.Visemes()))

	// Midpoint of "p" is a pure PP key.
	s.Sample(base+200*time.Millisecond, out)
	assert.InDelta(t, 1.0, out[idx[VisemePP]], 1e-4)
	assert.InDelta(t, 0.0, out[idx[VisemeAA]], 1e-4)

	// Halfway between the "p" and "a" midpoints.
	s.Sample(base+300*time.Millisecond, out)
	assert.InDelta(t, 0.5, out[idx[VisemePP]], 1e-4)
	assert.InDelta(t, 0.5, out[idx[VisemeAA]], 1e-4)

	for _, w := range out {
		assert.GreaterOrEqual(t, w, float32(0))
		assert.LessOrEqual(t, w, float32(1))
	}

	s.Sample(base+600*time.Millisecond, out)
	assert.False(t, s.IsPlaying())
	for _, w := range out {
		assert.Zero(t, w)
	}
}

func TestSequencer_StopZeroesOutput(t *testing.T) {
	s, _ := newTestSequencer(t)
	require.NoError(t, s.Parse([]byte(helloDurations)))
	s.Reset(0)

	s.Stop()
	assert.False(t, s.IsPlaying())

	out := []float32{1, 1, 1}
	s.Sample(200*time.Millisecond, out)
	assert.Equal(t, []float32{0, 0, 0}, out)
}

func TestSequencer_UnknownPhonemes(t *testing.T) {
	s, _ := newTestSequencer(t)
	require.NoError(t, s.Parse([]byte("#\n0.2 125 Q!\n0.4 125 a\n")))

	assert.Equal(t, map[string]int{"Q!": 1}, s.UnknownPhonemes())
}

func TestSequencer_ParseFailureKeepsPreviousSeries(t *testing.T) {
	s, _ := newTestSequencer(t)
	require.NoError(t, s.Parse([]byte(helloDurations)))

	err := s.Parse([]byte("garbage"))
	assert.ErrorIs(t, err, ErrMalformedTimingData)
	assert.Equal(t, 500*time.Millisecond, s.Duration())
}
