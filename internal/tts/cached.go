package tts

import (
	"context"
	"strings"

	"github.com/normanking/speechsync/internal/cache"
	"github.com/rs/zerolog"
)

// CachedFetcher memoizes successful fetches. Cache failures are logged and the
// request falls through to the wrapped fetcher.
type CachedFetcher struct {
	next   Fetcher
	store  cache.Store
	logger zerolog.Logger
}

// NewCachedFetcher wraps next with store.
func NewCachedFetcher(next Fetcher, store cache.Store, logger zerolog.Logger) *CachedFetcher {
	return &CachedFetcher{
		next:   next,
		store:  store,
		logger: logger.With().Str("component", "tts-cache").Logger(),
	}
}

func (f *CachedFetcher) FetchAudio(ctx context.Context, u Utterance) ([]byte, error) {
	return f.fetch(ctx, StepAudio, u, f.next.FetchAudio)
}

func (f *CachedFetcher) FetchTiming(ctx context.Context, u Utterance) ([]byte, error) {
	return f.fetch(ctx, StepTiming, u, f.next.FetchTiming)
}

func (f *CachedFetcher) fetch(ctx context.Context, step Step, u Utterance, next func(context.Context, Utterance) ([]byte, error)) ([]byte, error) {
	key := cacheKey(step, u)

	data, ok, err := f.store.Get(ctx, key)
	if err != nil {
		f.logger.Warn().Err(err).Str("step", string(step)).Msg("Cache lookup failed")
	} else if ok {
		f.logger.Debug().Str("step", string(step)).Str("utterance", u.ID).Msg("Cache hit")
		return data, nil
	}

	data, err = next(ctx, u)
	if err != nil {
		return nil, err
	}

	if err := f.store.Set(ctx, key, data); err != nil {
		f.logger.Warn().Err(err).Str("step", string(step)).Msg("Cache store failed")
	}
	return data, nil
}

func cacheKey(step Step, u Utterance) string {
	return strings.Join([]string{string(step), u.Voice.Name, u.Voice.Locale, u.ExtraParams, u.Text}, "|")
}
