package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/corpus/internal/sweeper"
)

var unlockHours int

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Reclaim leases left behind by interrupted runs",
	Args:  cobra.NoArgs,
	RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
		olderThan := a.cfg.StaleAfter(a.logger)
		if cmd.Flags().Changed("hours") {
			if unlockHours < 0 {
				return fmt.Errorf("--hours must not be negative")
			}
			olderThan = time.Duration(unlockHours) * time.Hour
		}
		n, err := sweeper.New(a.reg, a.logger, a.metrics).Reclaim(cmd.Context(), olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "unlock: reclaimed=%d older_than=%s\n", n, olderThan)
		return nil
	}),
}

func init() {
	unlockCmd.Flags().IntVar(&unlockHours, "hours", 0, "Reclaim leases older than this many hours; lease.stale_after when unset")
	rootCmd.AddCommand(unlockCmd)
}
