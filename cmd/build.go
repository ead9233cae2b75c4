package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or resume the source tree from the corpus roots",
	Long: `Walks every root under the sources directory, registering directories,
archives and data files. With --parse, archives are extracted and records are
handed to the entity parser; unchanged content is skipped by fingerprint.`,
	Args: cobra.NoArgs,
	RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
		e, err := a.engine(cmd.Context())
		if err != nil {
			return err
		}
		start := time.Now()
		st, err := e.Build(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "build: %s (%v)\n", st, time.Since(start).Round(time.Millisecond))
		return err
	}),
}

func init() {
	rootCmd.AddCommand(buildCmd)
}
