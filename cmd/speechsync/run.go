package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/normanking/speechsync/internal/bus"
	"github.com/normanking/speechsync/internal/config"
	"github.com/normanking/speechsync/internal/frameloop"
	"github.com/normanking/speechsync/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the frame loop and the control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(manager, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		loop := frameloop.New(cfg.LipSync.FPS, a.driver.Update, a.log.Component("frameloop"))

		srv, err := server.New(server.Options{
			Driver:  a.driver,
			Runner:  loop,
			Catalog: a.catalog,
			Voices:  a.client,
			Weights: a.rig,
			Deltas:  a.rig,
			Logs:    a.log,
			Bus:     a.bus,
			Metrics: a.metricsHandler,

			DeltaScale: cfg.LipSync.WeightScale,
		}, a.logger)
		if err != nil {
			return err
		}

		a.log.SetOnLog(srv.Hub().BroadcastLog)
		defer a.log.SetOnLog(nil)

		if err := a.client.Health(ctx); err != nil {
			a.logger.Warn().Err(err).Str("server", cfg.TTS.Server).Msg("MaryTTS not reachable yet")
		}

		manager.Watch(func(c *config.Config) {
			applyReload(ctx, a, loop, c)
		}, func(err error) {
			a.logger.Error().Err(err).Msg("Config reload rejected")
		})

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return loop.Run(ctx) })
		g.Go(func() error { return srv.Hub().Run(ctx) })
		g.Go(func() error { return srv.ListenAndServe(ctx, cfg.Server.Addr) })

		err = g.Wait()
		a.logger.Info().Msg("Shut down")
		return err
	},
}

// applyReload hands the settings that can change at runtime to the driver on
// the frame goroutine.
func applyReload(ctx context.Context, a *app, loop *frameloop.Loop, c *config.Config) {
	voice := a.voice(c.TTS.Voice, c.TTS.Locale)
	err := loop.Do(ctx, func() {
		a.driver.SetGain(c.LipSync.Gain)
		a.driver.SetVoice(voice)
		a.driver.SetExtraParams(c.TTS.ExtraParams)
	})
	if err != nil {
		a.logger.Warn().Err(err).Msg("Config reload not applied")
		return
	}

	a.bus.Publish(bus.NewEvent(bus.EventTypeConfigReloaded, map[string]any{
		"voice":  voice.Name,
		"locale": voice.Locale,
		"gain":   c.LipSync.Gain,
	}))
	a.logger.Info().
		Str("voice", voice.Name).
		Str("locale", voice.Locale).
		Float32("gain", c.LipSync.Gain).
		Msg("Configuration reloaded")
}
