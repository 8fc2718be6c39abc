package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/normanking/speechsync/internal/audio"
	"github.com/normanking/speechsync/internal/bus"
	"github.com/normanking/speechsync/internal/cache"
	"github.com/normanking/speechsync/internal/config"
	"github.com/normanking/speechsync/internal/lipsync"
	"github.com/normanking/speechsync/internal/logging"
	"github.com/normanking/speechsync/internal/rig"
	"github.com/normanking/speechsync/internal/speech"
	"github.com/normanking/speechsync/internal/telemetry"
	"github.com/normanking/speechsync/internal/tts"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	manager *config.Manager
	log     *logging.Logger
	logger  zerolog.Logger

	catalog *tts.Catalog
	client  *tts.MaryClient
	fetcher tts.Fetcher
	redis   *redis.Client

	engine *lipsync.Sequencer
	rig    *rig.Rig
	output speech.AudioOutput
	bus    *bus.EventBus
	driver *speech.Driver

	metrics           *telemetry.Metrics
	metricsHandler    http.Handler
	shutdownTelemetry func(context.Context) error
}

func newApp(manager *config.Manager, cfg *config.Config) (*app, error) {
	log, err := logging.New(&logging.Config{
		Dir:     cfg.Logging.Dir,
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		manager: manager,
		log:     log,
		logger:  log.Zerolog(),
		catalog: tts.DefaultCatalog(),
		bus:     bus.NewEventBus(),
	}

	if err := a.build(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) build() error {
	shutdown, handler, err := telemetry.Setup("speechsync", a.log.Component("telemetry"))
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.shutdownTelemetry = shutdown
	a.metricsHandler = handler

	if a.metrics, err = telemetry.NewMetrics(nil); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	a.client = tts.NewMaryClient(&tts.MaryConfig{
		ServerURL: a.cfg.TTS.Server,
		Timeout:   a.cfg.TTS.Timeout,
	}, a.log.Component("tts"))

	if a.fetcher, err = a.buildFetcher(); err != nil {
		return err
	}

	profile := lipsync.DefaultProfile()
	if a.cfg.LipSync.Profile != "" {
		if profile, err = lipsync.LoadProfile(a.cfg.LipSync.Profile); err != nil {
			return err
		}
	}
	if a.engine, err = lipsync.NewSequencer(profile); err != nil {
		return fmt.Errorf("lipsync profile: %w", err)
	}

	if a.cfg.Rig.Mesh != "" {
		if a.rig, err = rig.Load(a.cfg.Rig.Mesh); err != nil {
			return err
		}
		a.logger.Info().Str("mesh", a.cfg.Rig.Mesh).Int("targets", len(a.rig.Names())).Msg("Rig loaded")
	} else {
		a.rig = rig.New(a.engine.Visemes())
	}

	if a.cfg.Audio.Enabled {
		a.output = audio.NewSpeakerOutput(&audio.Config{
			Enabled:    true,
			SampleRate: a.cfg.Audio.SampleRate,
			Volume:     a.cfg.Audio.Volume,
		}, a.log.Component("audio"))
	} else {
		a.output = audio.NewNullOutput()
	}

	a.driver, err = speech.NewDriver(&speech.Config{
		Voice:       a.voice(a.cfg.TTS.Voice, a.cfg.TTS.Locale),
		ExtraParams: a.cfg.TTS.ExtraParams,
		Gain:        a.cfg.LipSync.Gain,
		WeightScale: a.cfg.LipSync.WeightScale,
	}, speech.Dependencies{
		Engine:  a.engine,
		Fetcher: a.fetcher,
		Output:  a.output,
		Targets: a.rig,
		Bus:     a.bus,
		Metrics: a.metrics,
	}, a.log.Zerolog())
	return err
}

func (a *app) buildFetcher() (tts.Fetcher, error) {
	c := a.cfg.TTS.Cache
	if !c.Enabled {
		return a.client, nil
	}

	var store cache.Store
	switch c.Backend {
	case "redis":
		a.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		store = cache.NewRedisStore(a.redis, "speechsync:tts:", c.TTL)
	default:
		mem, err := cache.NewMemoryStore(c.Size)
		if err != nil {
			return nil, fmt.Errorf("cache: %w", err)
		}
		store = mem
	}
	a.logger.Info().Str("backend", c.Backend).Msg("TTS cache enabled")
	return tts.NewCachedFetcher(a.client, store, a.log.Zerolog()), nil
}

// voice resolves name against the catalog. Names the catalog does not know
// are passed through so voices installed on the server still work. A
// non-empty locale overrides the catalog's.
func (a *app) voice(name, locale string) tts.Voice {
	v, err := a.catalog.Lookup(name)
	if errors.Is(err, tts.ErrVoiceNotFound) {
		a.logger.Warn().Str("voice", name).Msg("Voice not in catalog, sending as-is")
		v = tts.Voice{Name: name}
	}
	if locale != "" {
		v.Locale = locale
	}
	return v
}

func (a *app) close() {
	if a.driver != nil {
		a.driver.Close()
	}
	if a.output != nil {
		a.output.Clear()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.shutdownTelemetry != nil {
		_ = a.shutdownTelemetry(context.Background())
	}
	_ = a.log.Close()
}
