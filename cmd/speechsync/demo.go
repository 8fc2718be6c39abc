package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/normanking/speechsync/internal/tts"
	"github.com/spf13/cobra"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Speak the demo sentences for the voice's locale",
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
		count, _ := cmd.Flags().GetInt("count")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		sentences := tts.NewDemoSentences(voice.Locale)
		for i := 0; i < count; i++ {
			text := sentences.Next()
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", voice.Name, text)
			if err := speakAndWait(ctx, a, text, voice); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return nil
	},
}

func init() {
	demoCmd.Flags().String("voice", "", "voice name (default from config)")
	demoCmd.Flags().Int("count", 3, "number of sentences to speak")
}
