package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koscakluka/ema-live/core/relay"
)

var meetingCmd = &cobra.Command{
	Use:   "meeting",
	Short: "Meeting id helpers",
}

var meetingNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Print a fresh meeting id",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), relay.NewMeetingID())
		return nil
	},
}

func init() {
	meetingCmd.AddCommand(meetingNewCmd)
	rootCmd.AddCommand(meetingCmd)
}
