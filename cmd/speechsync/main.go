package main

import (
	"fmt"
	"os"

	"github.com/normanking/speechsync/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	cfg     *config.Config
	manager *config.Manager
)

var rootCmd = &cobra.Command{
	Use:   "speechsync",
	Short: "Lip-synced speech playback driven by MaryTTS",
	Long: "speechsync fetches audio and realised phoneme durations from a MaryTTS server, " +
		"plays the audio and animates viseme blend shapes in step with it.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		manager, err = config.New(cfgFile)
		if err != nil {
			return err
		}
		cfg, err = manager.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.speechsync/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sayCmd)
	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or write the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		write, _ := cmd.Flags().GetBool("write")
		if write {
			if err := manager.Save(cfg); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "MaryTTS server: %s\n", cfg.TTS.Server)
		fmt.Fprintf(out, "Voice:          %s\n", cfg.TTS.Voice)
		fmt.Fprintf(out, "Timeout:        %s\n", cfg.TTS.Timeout)
		fmt.Fprintf(out, "Cache:          %v (%s)\n", cfg.TTS.Cache.Enabled, cfg.TTS.Cache.Backend)
		fmt.Fprintf(out, "Gain:           %.2f\n", cfg.LipSync.Gain)
		fmt.Fprintf(out, "Weight scale:   %.0f\n", cfg.LipSync.WeightScale)
		fmt.Fprintf(out, "Mesh:           %s\n", cfg.Rig.Mesh)
		fmt.Fprintf(out, "Control API:    %s\n", cfg.Server.Addr)
		return nil
	},
}

func init() {
	configCmd.Flags().Bool("write", false, "write the effective configuration to the config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
