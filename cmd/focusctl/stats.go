package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"focusbot/internal/ledger"
	"focusbot/internal/session"
	"focusbot/internal/storage"
)

var (
	statsTimeframe string
	statsLimit     int
	recomputeCap   int
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the leaderboard derived from the persisted history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var since time.Time
		now := time.Now()
		switch statsTimeframe {
		case "all":
		case "today":
			since = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		case "week":
			since = now.Add(-7 * 24 * time.Hour)
		default:
			return fmt.Errorf("unknown timeframe %q (all, today, week)", statsTimeframe)
		}
		return loadSnapshot(cmd.Context(), func(_ storage.Store, snap *storage.Snapshot) error {
			totals := ledger.Fold(snap.Entries(), since)
			out := cmd.OutOrStdout()
			board := ledger.Leaderboard(totals, statsLimit)
			if len(board) == 0 {
				fmt.Fprintln(out, "no entries")
				return nil
			}
			for i, st := range board {
				fmt.Fprintf(out, "%2d. %-20s %s\n", i+1, st.UserID, session.FormatDuration(st.Total))
			}
			return nil
		})
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Rebuild stored totals from the history and save the snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return loadSnapshot(cmd.Context(), func(st storage.Store, snap *storage.Snapshot) error {
			l := ledger.New(recomputeCap)
			l.Restore(snap.Entries())
			totals := l.Totals()

			out := cmd.OutOrStdout()
			drift := 0
			for user, ms := range snap.Totals {
				if got := totals[user]; got != time.Duration(ms)*time.Millisecond {
					fmt.Fprintf(out, "%s: stored %s, replayed %s\n", user,
						session.FormatDuration(time.Duration(ms)*time.Millisecond), session.FormatDuration(got))
					drift++
				}
			}
			for user := range totals {
				if _, ok := snap.Totals[user]; !ok {
					fmt.Fprintf(out, "%s: missing, replayed %s\n", user, session.FormatDuration(totals[user]))
					drift++
				}
			}

			snap.SetHistory(l.Entries(), totals)
			sctx, cancel := context.WithTimeout(cmd.Context(), storeTimeout)
			defer cancel()
			if err := st.Save(sctx, snap); err != nil {
				return fmt.Errorf("save snapshot: %w", err)
			}
			fmt.Fprintf(out, "saved %d entries, %d users, %d totals corrected\n", l.Len(), len(totals), drift)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsTimeframe, "timeframe", "all", "all, today or week")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 10, "leaderboard size")
	recomputeCmd.Flags().IntVar(&recomputeCap, "cap", ledger.DefaultCapacity, "history capacity to trim to")
}
