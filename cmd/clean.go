package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove extraction workspaces no leased archive needs",
	Args:  cobra.NoArgs,
	RunE: run(func(cmd *cobra.Command, a *app, _ []string) error {
		e, err := a.engine(cmd.Context())
		if err != nil {
			return err
		}
		n, err := e.Clean(cmd.Context())
		fmt.Fprintf(cmd.OutOrStdout(), "clean: removed=%d\n", n)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
