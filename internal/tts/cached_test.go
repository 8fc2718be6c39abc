package tts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/normanking/speechsync/internal/cache"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	mu     sync.Mutex
	audio  int
	timing int
	err    error
}

func (f *countingFetcher) FetchAudio(ctx context.Context, u Utterance) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + u.Text), nil
}

func (f *countingFetcher) FetchTiming(ctx context.Context, u Utterance) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timing++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("timing:" + u.Text), nil
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("store down")
}

func (brokenStore) Set(context.Context, string, []byte) error {
	return errors.New("store down")
}

func TestCachedFetcher_HitsAfterFirstFetch(t *testing.T) {
	store, err := cache.NewMemoryStore(8)
	require.NoError(t, err)
	next := &countingFetcher{}
	f := NewCachedFetcher(next, store, zerolog.Nop())

	voice := Voice{Name: "cmu-slt", Locale: "en_US"}
	for i := 0; i < 3; i++ {
		u := NewUtterance("hello", voice, "")
		audio, err := f.FetchAudio(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "audio:hello", string(audio))

		timing, err := f.FetchTiming(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, "timing:hello", string(timing))
	}

	assert.Equal(t, 1, next.audio)
	assert.Equal(t, 1, next.timing)
	assert.Equal(t, 2, store.Len())
}

func TestCachedFetcher_KeyIncludesVoiceAndParams(t *testing.T) {
	store, err := cache.NewMemoryStore(8)
	require.NoError(t, err)
	next := &countingFetcher{}
	f := NewCachedFetcher(next, store, zerolog.Nop())

	ctx := context.Background()
	_, _ = f.FetchAudio(ctx, NewUtterance("hi", Voice{Name: "cmu-slt"}, ""))
	_, _ = f.FetchAudio(ctx, NewUtterance("hi", Voice{Name: "dfki-spike"}, ""))
	_, _ = f.FetchAudio(ctx, NewUtterance("hi", Voice{Name: "cmu-slt"}, "&effect_Robot_selected=on"))

	assert.Equal(t, 3, next.audio)
}

func TestCachedFetcher_ErrorsAreNotCached(t *testing.T) {
	store, err := cache.NewMemoryStore(8)
	require.NoError(t, err)
	next := &countingFetcher{err: &TransportError{Step: StepAudio, Status: 500, Err: errors.New("boom")}}
	f := NewCachedFetcher(next, store, zerolog.Nop())

	_, err = f.FetchAudio(context.Background(), NewUtterance("hi", Voice{}, ""))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Zero(t, store.Len())
}

func TestCachedFetcher_BrokenStoreFallsThrough(t *testing.T) {
	next := &countingFetcher{}
	f := NewCachedFetcher(next, brokenStore{}, zerolog.Nop())

	audio, err := f.FetchAudio(context.Background(), NewUtterance("hi", Voice{}, ""))
	require.NoError(t, err)
	assert.Equal(t, "audio:hi", string(audio))
}
