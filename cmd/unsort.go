package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentic-research/corpus/internal/reorg"
)

var unsortRoot string

var unsortCmd = &cobra.Command{
	Use:   "unsort",
	Short: "Move dated files from a root's inbox into their date directories",
	Args:  cobra.NoArgs,
	RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
		dir := filepath.Join(a.cfg.Corpus.SourcesDir, unsortRoot)
		rep, err := reorg.Unsort(cmd.Context(), dir, a.cfg.Reorganize.Inbox, a.logger)
		fmt.Fprintf(cmd.OutOrStdout(), "unsort: moved=%d left=%d\n", len(rep.Moved), len(rep.Left))
		return err
	}),
}

func init() {
	unsortCmd.Flags().StringVar(&unsortRoot, "root", "", "Root directory name under the sources directory")
	_ = unsortCmd.MarkFlagRequired("root")
	rootCmd.AddCommand(unsortCmd)
}
