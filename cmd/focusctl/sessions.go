package main

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"focusbot/internal/session"
	"focusbot/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List persisted sessions and whether they expired while offline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return loadSnapshot(cmd.Context(), func(_ storage.Store, snap *storage.Snapshot) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "source: %s\n", snap.Source)
			for _, s := range snap.Skipped {
				fmt.Fprintf(out, "skipped: %s\n", s)
			}

			list := snap.Sessions()
			sort.Slice(list, func(i, j int) bool { return list[i].Deadline.Before(list[j].Deadline) })
			now := time.Now()

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tOWNER\tSCOPE\tDEADLINE\tSTATE")
			for i := range list {
				s := &list[i]
				state := "in " + session.FormatDuration(session.Remaining(s, now))
				if !s.Deadline.After(now) {
					state = "due"
				}
				if s.Kind == session.KindPomodoro {
					state += fmt.Sprintf(" (cycle %d/%d %s)", s.Pomodoro.CurrentCycle+1, s.Pomodoro.TotalCycles, s.Pomodoro.Phase)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Kind, s.OwnerID, s.ScopeID, s.Deadline.Local().Format(time.DateTime), state)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d sessions, %d history entries\n", len(list), len(snap.History))
			return nil
		})
	},
}
