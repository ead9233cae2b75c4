package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/corpus/internal/source"
)

var checkTree bool

var treeCmd = &cobra.Command{
	Use:   "tree [root...]",
	Short: "Print registered source trees",
	Long: `Prints every registered root, or the named ones, with their descendants.
With --check the nested-set bounds of each printed tree are verified.`,
	RunE: run(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		roots, err := a.reg.Find().Roots().All(ctx)
		if err != nil {
			return err
		}
		want := make(map[string]bool, len(args))
		for _, name := range args {
			want[name] = true
		}

		out := cmd.OutOrStdout()
		for _, root := range roots {
			if len(want) > 0 && !want[root.Path] {
				continue
			}
			nodes, err := a.reg.Descendants(ctx, root, 0, true)
			if err != nil {
				return err
			}
			printTree(out, nodes)
			if checkTree {
				if err := a.reg.Tree().Check(ctx, root.TreeID); err != nil {
					return fmt.Errorf("tree %s: %w", root.Path, err)
				}
				fmt.Fprintf(out, "tree %s: %d nodes, bounds ok\n", root.Path, len(nodes))
			}
		}
		return nil
	}),
}

func printTree(w io.Writer, nodes []*source.Source) {
	for _, n := range nodes {
		var marks []string
		if n.Parsed() {
			marks = append(marks, "parsed")
		}
		if n.Leased() {
			marks = append(marks, "leased")
		}
		if n.Temporary {
			marks = append(marks, "tmp")
		}
		line := fmt.Sprintf("%s%s [%s]", strings.Repeat("  ", n.Depth), n.Path, n.Kind)
		if len(marks) > 0 {
			line += " " + strings.Join(marks, ",")
		}
		fmt.Fprintln(w, line)
	}
}

func init() {
	treeCmd.Flags().BoolVar(&checkTree, "check", false, "Verify the nested-set bounds")
	rootCmd.AddCommand(treeCmd)
}
