package main

import (
	"context"
	"errors"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/normanking/speechsync/internal/frameloop"
	"github.com/normanking/speechsync/internal/speech"
	"github.com/normanking/speechsync/internal/tts"
	"github.com/spf13/cobra"
)

var sayCmd = &cobra.Command{
	Use:   "say <text>...",
	Short: "Speak one sentence and exit when it finishes",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(manager, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		voice := a.voice(cfg.TTS.Voice, cfg.TTS.Locale)
		if name, _ := cmd.Flags().GetString("voice"); name != "" {
			voice = a.voice(name, cfg.TTS.Locale)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return speakAndWait(ctx, a, strings.Join(args, " "), voice)
	},
}

func init() {
	sayCmd.Flags().String("voice", "", "voice name (default from config)")
}

// speakAndWait runs a private frame loop until the utterance finishes, fails
// or ctx is cancelled.
func speakAndWait(ctx context.Context, a *app, text string, voice tts.Voice) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// gen, started and result are only touched on the loop goroutine until
	// the loop has exited.
	var (
		gen     uint64
		started bool
		result  error
	)
	a.driver.SetOutcomeHandler(func(o speech.Outcome) {
		if o.Generation != gen {
			return
		}
		if o.Err != nil {
			result = o.Err
			cancel()
			return
		}
		// Playback may start and finish within the same frame.
		started = true
	})
	defer a.driver.SetOutcomeHandler(nil)

	loop := frameloop.New(a.cfg.LipSync.FPS, func(now time.Duration) {
		a.driver.Update(now)
		if started && a.driver.State() == speech.StateIdle {
			cancel()
		}
	}, a.log.Component("frameloop"))

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	var speakErr error
	if err := loop.Do(ctx, func() { gen, speakErr = a.driver.SpeakWith(text, voice) }); err != nil {
		cancel()
		<-done
		return err
	}
	if speakErr != nil {
		cancel()
		<-done
		return speakErr
	}

	<-done
	// The loop has exited, so the driver can be touched from here.
	if a.driver.State() != speech.StateIdle {
		a.driver.Stop()
	}
	if result != nil {
		return result
	}
	if !started {
		return errors.New("interrupted before playback started")
	}
	return nil
}
