// Command focusctl inspects and repairs focusbot state offline. Stop the
// bot before running write commands against its store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"focusbot/internal/config"
)

var (
	storeDriver string
	storePath   string
)

var rootCmd = &cobra.Command{
	Use:           "focusctl",
	Short:         "Inspect and repair focusbot session state",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeDriver, "driver", "file", "storage driver: file or sqlite")
	rootCmd.PersistentFlags().StringVar(&storePath, "path", config.DefaultStoragePath, "snapshot file or sqlite database")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(recomputeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "focusctl:", err)
		os.Exit(1)
	}
}
