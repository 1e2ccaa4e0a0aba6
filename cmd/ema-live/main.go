package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "ema-live",
	Short:        "Realtime speech translation console",
	SilenceUsage: true,
	Long: `ema-live streams microphone audio to a realtime speech engine, plays the
spoken translation back and shares prompts with the other participants of a
meeting.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML settings file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
