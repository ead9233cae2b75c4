package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var onlyNew bool

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Process registered archives that are not parsed yet",
	Long: `Reclaims leases older than lease.backlog_reclaim_after, then visits
registered archives, never parsed first and oldest parsed next.`,
	Args: cobra.NoArgs,
	RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
		e, err := a.engine(cmd.Context())
		if err != nil {
			return err
		}
		st, err := e.ProcessBacklog(cmd.Context(), onlyNew, a.cfg.BacklogReclaimAfter(a.logger))
		fmt.Fprintf(cmd.OutOrStdout(), "backlog: %s\n", st)
		return err
	}),
}

func init() {
	backlogCmd.Flags().BoolVar(&onlyNew, "only-new", true, "Skip archives that were parsed before or are leased")
	rootCmd.AddCommand(backlogCmd)
}
