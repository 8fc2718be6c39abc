package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/normanking/speechsync/internal/tts"
	"github.com/spf13/cobra"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List voices installed on the MaryTTS server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(manager, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		voices := a.catalog.List()
		source := "built-in catalog"
		if useCatalog, _ := cmd.Flags().GetBool("catalog"); !useCatalog {
			remote, err := a.client.ListVoices(cmd.Context())
			if err != nil {
				a.logger.Warn().Err(err).Msg("Voice listing failed, showing the built-in catalog")
			} else {
				voices, source = remote, cfg.TTS.Server
			}
		}

		printVoices(cmd, source, voices)
		return nil
	},
}

func init() {
	voicesCmd.Flags().Bool("catalog", false, "show the built-in catalog without contacting the server")
}

func printVoices(cmd *cobra.Command, source string, voices []tts.Voice) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Voices from %s:\n", source)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLOCALE\tGENDER\tTYPE")
	for _, v := range voices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name, v.Locale, v.Gender, v.Type)
	}
	_ = tw.Flush()
}
