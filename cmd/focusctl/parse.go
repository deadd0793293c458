package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"focusbot/internal/session"
)

var parseCmd = &cobra.Command{
	Use:   "parse <text>",
	Short: "Show how a duration and participant list would be read",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		out := cmd.OutOrStdout()
		if d, ok := session.ParseDuration(text); ok {
			fmt.Fprintf(out, "duration:     %s (%s)\n", session.FormatDuration(d), d)
		} else {
			fmt.Fprintln(out, "duration:     not a duration")
		}
		ids := session.ParseParticipants(text)
		if len(ids) == 0 {
			fmt.Fprintln(out, "participants: none")
			return nil
		}
		fmt.Fprintf(out, "participants: %s\n", strings.Join(ids, ", "))
		return nil
	},
}
